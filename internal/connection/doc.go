// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains one dashboard websocket per subscription
//   - Drives the Idle/Connecting/Open/Reconnecting/Closed/Failed state machine
//   - Handles reconnection with capped exponential backoff (1s..30s, 10 attempts)
//   - Sends {"type":"ping"} keep-alives while open
//   - Routes incoming frames to the Message Router
//
// Hosts use the Subscription handle returned by Subscribe; they never see
// sockets or timers.
package connection
