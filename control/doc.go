// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime observability for the relay: Prometheus metrics for the hub and the
// transport, and named debug probes dumped as JSON.
//
// Every Metrics method is safe on a nil receiver so components can run
// without instrumentation.
package control
