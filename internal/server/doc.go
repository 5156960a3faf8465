// Package server exposes the call recorder over the network. The UDP listener
// receives call-state datagrams from the telephony gateway and feeds them, in
// arrival order, to the call-state machine. The HTTP API serves the recording
// index, preferences and capture status, pushes list changes over websockets
// and exports Prometheus metrics.
package server
