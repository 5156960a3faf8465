// Package recording drives a capture.Recorder from call events and hands
// finished captures to storage.
package recording
