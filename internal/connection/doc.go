// Package connection implements the protocol client for the trading WebSocket.
//
// A Client owns exactly one transport connection and moves through
// Disconnected -> Connecting -> Authorizing -> Ready, with Closed reachable
// from any state. Closed is terminal; a dropped connection needs a new Client.
//
// On top of the connection it provides:
//   - Request correlation: every Send gets a fresh numeric id and completes
//     with the response envelope carrying that id
//   - Subscriptions: subscribe requests whose data arrives later as pushes,
//     with an idempotent unsubscribe
//   - A listener bus that fans push envelopes out to registered callbacks
package connection
