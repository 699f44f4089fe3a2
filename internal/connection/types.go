package connection

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/troika-tech/creditsync/internal/backoff"
	"github.com/troika-tech/creditsync/internal/heartbeat"
	"github.com/troika-tech/creditsync/internal/router"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout (no inbound frames)")
)

// MaxAttemptsMessage is the Err() value of a subscription in StateFailed.
const MaxAttemptsMessage = "Max reconnection attempts reached"

// Close codes. Anything other than CloseNormal is treated as abnormal.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// State is the connection lifecycle state of one subscription.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether leaving s requires an explicit Reconnect.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Status is a consistent snapshot of the public fields.
type Status struct {
	State        State
	Connected    bool   // True only in StateOpen
	Reconnecting bool   // True only in StateReconnecting
	Error        string // Last connection error, "" if none
	Attempt      int    // Retries scheduled since the last successful open
}

// Indicator renders the tri-state live/reconnecting/offline value.
func (s Status) Indicator() string {
	switch {
	case s.Connected:
		return "live"
	case s.Reconnecting:
		return "reconnecting"
	default:
		return "offline"
	}
}

// Conn is one live websocket.
type Conn interface {
	// ReadMessage blocks until a data frame arrives or the socket fails.
	// A close from the peer is reported as *websocket.CloseError.
	ReadMessage() ([]byte, error)

	// WriteMessage sends a text frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close sends a close frame with code and tears the socket down.
	Close(code int, reason string) error
}

// Dialer opens websocket connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// ClientConfig configures the gorilla-backed Dialer.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Max time for the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends and close frames
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// ManagerConfig configures one subscription.
type ManagerConfig struct {
	WSBase            string            // e.g. wss://calling-api.0804.in (http/https are converted)
	Path              string            // Endpoint path, default /ws/dashboard
	Token             string            // Forwarded as ?token= and Authorization header; optional
	HeartbeatInterval time.Duration     // Ping period while open
	PongTimeout       time.Duration     // Max silence before forcing a reconnect; 0 disables
	Backoff           backoff.Scheduler // Reconnect delays and attempt ceiling
	Client            ClientConfig      // Used when no Dialer option is given
}

// DefaultPath is the dashboard stream endpoint.
const DefaultPath = "/ws/dashboard"

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Path:              DefaultPath,
		HeartbeatInterval: heartbeat.DefaultInterval,
		Backoff:           backoff.Default(),
		Client:            DefaultClientConfig(),
	}
}

// ManagerStats provides statistics about one subscription.
type ManagerStats struct {
	State          State
	Attempt        int
	Dials          int64
	Opens          int64
	AbnormalCloses int64
	PingsSent      int64
	PingsFailed    int64
	ConnID         string
	Router         router.Stats
}
