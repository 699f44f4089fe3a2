package connection

import "github.com/troika-tech/creditsync/internal/router"

// Subscription is the handle given to the host application.
type Subscription interface {
	// Connected is true only while the stream is open.
	Connected() bool

	// Reconnecting is true only while a retry is scheduled.
	Reconnecting() bool

	// Err is the last connection error, "" if none.
	Err() string

	// Status returns all public fields at once.
	Status() Status

	// Disconnect closes the stream and cancels every timer. Idempotent.
	Disconnect()

	// Reconnect restarts the stream with a fresh retry budget.
	Reconnect()
}

// Subscribe creates a subscription for subscriberID and starts connecting.
// An empty subscriberID yields a handle that stays idle.
func Subscribe(cfg ManagerConfig, subscriberID string, onUpdate router.UpdateFunc, opts ...Option) Subscription {
	m := NewManager(cfg, subscriberID, onUpdate, opts...)
	m.Connect()
	return m
}
