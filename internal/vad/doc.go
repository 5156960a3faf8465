// Package vad classifies PCM sample frames as silent or voiced by peak
// amplitude. Thresholds are expressed as a fraction of full scale so the
// same setting applies to 8-bit, 16-bit, 24-bit, 32-bit and float samples.
package vad
