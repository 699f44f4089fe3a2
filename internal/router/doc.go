// Package router implements the Message Router component.
//
// The Message Router:
//   - Parses inbound JSON frames from the dashboard websocket
//   - Dispatches credit:deducted / credit:added frames to the host callback
//   - Treats connected and pong frames as informational
//   - Ignores unknown frame types so newer servers stay compatible
//   - Never closes the connection or changes its state
package router
