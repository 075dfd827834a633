// Package progress carries download progress out of the worker pool. Workers
// emit Events to a non-blocking Hub, which batches them on a background
// goroutine and fans them out to sinks such as structured logs or Prometheus.
package progress
