// Package poller implements the fallback balance poller.
//
// While the credit stream is not live the poller asks the balance tracker
// to reconcile against the REST API on a fixed interval, so the cached
// balance keeps moving during long outages. Ticks that find the stream
// live are skipped.
package poller
