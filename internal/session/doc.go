// Package session
// Author: momentics <momentics@gmail.com>
//
// Connection registry for the relay: one Session per open WebSocket, keyed by
// an opaque id. Enumeration is snapshot-only so that code iterating sessions
// may close or remove other sessions without disturbing the iteration.
package session
