// Package balance keeps the locally cached credit balance in sync with the
// live credit stream and the REST API.
//
// Stream events are applied as they arrive and fanned out to listeners on the
// "credit" topic. Every time the stream (re)opens the tracker asks the REST
// API for the authoritative balance, since events missed while offline are
// never replayed.
package balance
