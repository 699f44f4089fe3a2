package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/troika-tech/creditsync/internal/balance"
	"github.com/troika-tech/creditsync/internal/connection"
	"github.com/troika-tech/creditsync/internal/poller"
	"github.com/troika-tech/creditsync/internal/writer"
)

type statusSource interface {
	Status() connection.Status
}

type balanceSource interface {
	Snapshot() balance.Snapshot
}

// statsFunc reports one component's counters.
type statsFunc func() map[string]interface{}

type healthResponse struct {
	Status     string                            `json:"status"` // live, reconnecting or offline
	Stream     streamHealth                      `json:"stream"`
	Credit     *creditView                       `json:"credit,omitempty"`
	Components map[string]map[string]interface{} `json:"components,omitempty"`
}

type streamHealth struct {
	State   string `json:"state"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

type creditView struct {
	Balance    float64    `json:"balance"`
	Source     string     `json:"source"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// newHealthHandler serves /health. Offline streams answer 503.
func newHealthHandler(sub statusSource, tracker balanceSource, components map[string]statsFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := sub.Status()
		resp := healthResponse{
			Status: st.Indicator(),
			Stream: streamHealth{
				State:   st.State.String(),
				Attempt: st.Attempt,
				Error:   st.Error,
			},
		}

		if snap := tracker.Snapshot(); snap.Known {
			cv := &creditView{
				Balance:   snap.Balance,
				Source:    string(snap.Source),
				UpdatedAt: snap.UpdatedAt,
			}
			if !snap.ExpiryDate.IsZero() {
				exp := snap.ExpiryDate
				cv.ExpiryDate = &exp
			}
			resp.Credit = cv
		}

		if len(components) > 0 {
			resp.Components = make(map[string]map[string]interface{}, len(components))
			for name, stats := range components {
				resp.Components[name] = stats()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "offline" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})

	return mux
}

func managerStats(m connection.Manager) statsFunc {
	return func() map[string]interface{} {
		s := m.Stats()
		return map[string]interface{}{
			"conn_id":         s.ConnID,
			"dials":           s.Dials,
			"opens":           s.Opens,
			"abnormal_closes": s.AbnormalCloses,
			"pings_sent":      s.PingsSent,
			"pings_failed":    s.PingsFailed,
			"messages":        s.Router.MessagesReceived,
			"routed":          s.Router.MessagesRouted,
			"parse_errors":    s.Router.ParseErrors,
			"unknown":         s.Router.UnknownMessages,
			"callback_panics": s.Router.CallbackPanics,
		}
	}
}

func trackerStats(t *balance.Tracker) statsFunc {
	return func() map[string]interface{} {
		s := t.Snapshot()
		q := t.OutboxStats()
		return map[string]interface{}{
			"events":        s.Events,
			"reconciles":    s.Reconciles,
			"throttled":     s.Throttled,
			"deferred":      s.Deferred,
			"outbox_len":    q.Len,
			"outbox_pushed": q.Pushed,
		}
	}
}

func pollerStats(p *poller.Poller) statsFunc {
	return func() map[string]interface{} {
		s := p.Stats()
		return map[string]interface{}{
			"polls":     s.Polls,
			"skipped":   s.Skipped,
			"throttled": s.Throttled,
			"errors":    s.Errors,
		}
	}
}

func ledgerStats(w *writer.CreditWriter) statsFunc {
	return func() map[string]interface{} {
		s := w.Stats()
		return map[string]interface{}{
			"inserts":   s.Inserts,
			"conflicts": s.Conflicts,
			"errors":    s.Errors,
			"flushes":   s.Flushes,
			"retried":   s.Retried,
			"dropped":   s.Dropped,
		}
	}
}
