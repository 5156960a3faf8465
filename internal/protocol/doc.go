// Package protocol implements the binary datagram format carrying call-state
// signals from the telephony gateway.
package protocol
