// Package callstate turns raw telephony signal transitions (Idle, Ringing,
// OffHook) into call lifecycle events with an inferred direction.
package callstate
