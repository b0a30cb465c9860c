// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrLoopStopped indicates the event loop no longer accepts work.
	ErrLoopStopped = errors.New("event loop stopped")

	// ErrLoopRunning indicates Run was called on a loop that is already running.
	ErrLoopRunning = errors.New("event loop already running")
)
