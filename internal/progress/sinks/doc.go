// Package sinks provides progress.Sink implementations for structured logs and
// Prometheus collectors.
package sinks
