package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// UpdateFunc receives credit events. It is called synchronously on the
// connection's read goroutine, once per credit frame.
type UpdateFunc func(CreditUpdateEvent)

// Router parses raw frames and dispatches them by type.
type Router struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	onUpdate UpdateFunc

	seqMu   sync.Mutex
	seqConn string
	seq     uint64

	received        atomic.Int64
	routed          atomic.Int64
	parseErrors     atomic.Int64
	unknownMessages atomic.Int64
	callbackPanics  atomic.Int64
}

// New creates a Router. onUpdate may be nil and set later with SetCallback.
func New(onUpdate UpdateFunc, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		now:      time.Now,
		onUpdate: onUpdate,
	}
}

// SetCallback replaces the host callback. Frames routed after SetCallback
// returns use the new callback.
func (r *Router) SetCallback(fn UpdateFunc) {
	r.mu.Lock()
	r.onUpdate = fn
	r.mu.Unlock()
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		UnknownMessages:  r.unknownMessages.Load(),
		CallbackPanics:   r.callbackPanics.Load(),
	}
}

// Route parses and dispatches a single frame received on connection connID.
// It returns true if the host callback was invoked.
func (r *Router) Route(connID string, data []byte) bool {
	r.received.Add(1)

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.parseErrors.Add(1)
		r.logger.Warn("failed to parse frame", "conn_id", connID, "error", err)
		return false
	}

	switch frame.Type {
	case TypeConnected:
		r.logger.Info("dashboard stream authenticated", "conn_id", connID, "data", string(frame.Data))
		return false

	case TypeCreditDeducted, TypeCreditAdded:
		event, err := r.parseCredit(connID, frame)
		if err != nil {
			r.parseErrors.Add(1)
			r.logger.Warn("failed to parse credit frame", "conn_id", connID, "type", frame.Type, "error", err)
			return false
		}
		event.Seq = r.nextSeq(connID)
		return r.dispatch(event)

	case TypePong:
		return false

	default:
		r.unknownMessages.Add(1)
		r.logger.Debug("skipping frame type", "conn_id", connID, "type", frame.Type)
		return false
	}
}

// parseCredit merges the frame type with its data object.
func (r *Router) parseCredit(connID string, frame Frame) (CreditUpdateEvent, error) {
	event := CreditUpdateEvent{
		Type:       frame.Type,
		ConnID:     connID,
		ReceivedAt: r.now(),
	}

	data := bytes.TrimSpace(frame.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return event, nil
	}

	var wire creditWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return CreditUpdateEvent{}, fmt.Errorf("decode data: %w", err)
	}
	if wire.Amount != nil {
		event.Amount = *wire.Amount
	}
	if wire.NewBalance != nil {
		event.NewBalance = *wire.NewBalance
		event.HasBalance = true
	}
	return event, nil
}

// nextSeq numbers credit frames per connection, restarting at 1 whenever
// frames start arriving on a new connection.
func (r *Router) nextSeq(connID string) uint64 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	if connID != r.seqConn {
		r.seqConn = connID
		r.seq = 0
	}
	r.seq++
	return r.seq
}

// dispatch invokes the callback, containing any panic it raises.
func (r *Router) dispatch(event CreditUpdateEvent) (called bool) {
	r.mu.RLock()
	fn := r.onUpdate
	r.mu.RUnlock()

	if fn == nil {
		return false
	}

	defer func() {
		if p := recover(); p != nil {
			r.callbackPanics.Add(1)
			r.logger.Error("credit update callback panicked",
				"conn_id", event.ConnID,
				"type", event.Type,
				"panic", p,
			)
		}
	}()

	called = true
	r.routed.Add(1)
	fn(event)
	return called
}
