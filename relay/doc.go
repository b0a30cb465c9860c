// Package relay
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hub implements the pairing and relay protocol spoken over each session:
// role assignment (manager, device, client), credential-checked forwarding
// between clients and their device, and disconnect cleanup.
//
// A Hub is not safe for concurrent use. Every method is meant to run on the
// single event-loop goroutine; Hub implements concurrency.EventHandler for
// that purpose.
package relay
