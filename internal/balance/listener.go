package balance

import "sync"

// Listener receives published updates on C. C is closed after Unsubscribe or
// when the tracker stops.
type Listener struct {
	C <-chan Update

	raw  chan interface{}
	done chan struct{}
	once sync.Once
}

// Subscribe registers a new listener.
func (t *Tracker) Subscribe() *Listener {
	out := make(chan Update, t.cfg.QueueLength)
	l := &Listener{C: out, done: make(chan struct{})}

	t.busMu.Lock()
	defer t.busMu.Unlock()
	if t.busClosed {
		close(out)
		return l
	}

	l.raw = t.bus.Sub(TopicCredit)
	go t.forward(l, out)
	return l
}

// Unsubscribe detaches l. Updates already buffered on C stay readable.
func (t *Tracker) Unsubscribe(l *Listener) {
	l.once.Do(func() {
		close(l.done)

		t.busMu.Lock()
		defer t.busMu.Unlock()
		if !t.busClosed && l.raw != nil {
			t.bus.Unsub(l.raw, TopicCredit)
		}
	})
}

// forward copies updates to the typed channel. Once the listener or the
// tracker is done it keeps draining raw so the bus never stalls on it.
func (t *Tracker) forward(l *Listener, out chan<- Update) {
	defer close(out)
	for v := range l.raw {
		u, ok := v.(Update)
		if !ok {
			continue
		}
		select {
		case out <- u:
		case <-l.done:
		case <-t.stopped:
		}
	}
}
