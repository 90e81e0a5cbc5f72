// Package transport provides the entity's network layer.
//
// It has three parts:
//   - Server, the client-facing reactor
//   - AuthClient, which runs session key exchanges with the Authentication
//     Service
//   - Client, a client of the entity server used by tools and tests
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│  Client frames │ Auth frames   │
//	├────────────────┼───────────────┤
//	│ 10-byte header │ type + varint │
//	├────────────────┴───────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Reactor
//
// Server runs one event loop goroutine that owns every connection and its
// handler. Reader goroutines and background tasks only hand events to the
// loop, so handlers never need locks. An end-of-stream read deregisters the
// connection; an empty read without an error does not.
//
// Writes are attempted with a short deadline. Whatever was not written stays
// queued and is retried by the loop's flush ticker.
//
// # Auth exchange
//
//	CONNECTING → AWAIT_AUTH_HELLO → SENDING_REQUEST → AWAIT_AUTH_RESPONSE → SUCCEEDED
//	                                                                       ↘ FAILED
//
// Each exchange uses its own connection and runs outside the event loop.
// SESSION_KEY_REQ is only sent after AUTH_HELLO and at most once.
package transport
