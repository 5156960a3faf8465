// Package metrics defines the Prometheus metrics of the call recorder.
package metrics
