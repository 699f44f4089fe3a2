package router

import (
	"encoding/json"
	"time"
)

// Frame types exchanged on /ws/dashboard.
const (
	TypeConnected      = "connected"
	TypeCreditDeducted = "credit:deducted"
	TypeCreditAdded    = "credit:added"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Frame is one JSON message unit in either direction.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CreditUpdateEvent is the normalized event handed to the host callback.
type CreditUpdateEvent struct {
	Type       string  // TypeCreditDeducted or TypeCreditAdded
	Amount     float64 // Signed delta as sent by the server (negative for deductions)
	NewBalance float64 // Balance after the mutation

	// HasBalance is false when the frame carried no newBalance field.
	HasBalance bool

	ConnID     string    // Connection epoch the frame arrived on
	Seq        uint64    // 1-based position among credit frames on ConnID
	ReceivedAt time.Time // Local timestamp when the frame was routed
}

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	CallbackPanics   int64
}

// creditWire is the data object of a credit frame.
type creditWire struct {
	Amount     *float64 `json:"amount"`
	NewBalance *float64 `json:"newBalance"`
}

var pingFrame, _ = json.Marshal(Frame{Type: TypePing})

// PingFrame returns the encoded {"type":"ping"} keep-alive frame.
func PingFrame() []byte {
	out := make([]byte, len(pingFrame))
	copy(out, pingFrame)
	return out
}
