// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency provides the event loop that serialises all relay
// state changes onto one goroutine. Transport goroutines only produce events;
// handlers run to completion and never preempt one another.
package concurrency
