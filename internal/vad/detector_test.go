package vad

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestNewDetectorValidation(t *testing.T) {
	tests := []struct {
		name      string
		bits      int
		float     bool
		threshold float64
		expectErr bool
	}{
		{"16-bit pcm", 16, false, DefaultThreshold, false},
		{"8-bit pcm", 8, false, DefaultThreshold, false},
		{"24-bit pcm", 24, false, DefaultThreshold, false},
		{"float", 32, true, DefaultThreshold, false},
		{"zero threshold", 16, false, 0, true},
		{"threshold above one", 16, false, 1.5, true},
		{"12-bit pcm", 12, false, DefaultThreshold, true},
		{"16-bit float", 16, true, DefaultThreshold, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector(tt.bits, tt.float, tt.threshold)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func pcm16(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func TestIsSilentFrame16Bit(t *testing.T) {
	d, err := NewDetector(16, false, DefaultThreshold)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	tests := []struct {
		name   string
		frame  []byte
		silent bool
	}{
		{"zero stereo", pcm16(0, 0), true},
		{"low noise", pcm16(100, -200), true},
		{"at threshold", pcm16(512, -512), true},
		{"loud left", pcm16(10000, 0), false},
		{"loud negative right", pcm16(0, -513), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsSilentFrame(tt.frame); got != tt.silent {
				t.Errorf("Expected silent=%v, got %v", tt.silent, got)
			}
		})
	}

	stats := d.Stats()
	if stats.TotalFrames != uint64(len(tests)) {
		t.Errorf("Expected %d frames, got %d", len(tests), stats.TotalFrames)
	}
	if stats.SilentFrames != 3 {
		t.Errorf("Expected 3 silent frames, got %d", stats.SilentFrames)
	}
}

func TestIsSilentFrame8BitUsesMidpoint(t *testing.T) {
	d, err := NewDetector(8, false, DefaultThreshold)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	if !d.IsSilentFrame([]byte{0x80}) {
		t.Error("Expected 0x80 to be silent")
	}
	if !d.IsSilentFrame([]byte{0x81}) {
		t.Error("Expected 0x81 to be silent")
	}
	if d.IsSilentFrame([]byte{0x00}) {
		t.Error("Expected 0x00 to be loud")
	}
	if d.IsSilentFrame([]byte{0xFF}) {
		t.Error("Expected 0xFF to be loud")
	}
}

func TestIsSilentFrame24Bit(t *testing.T) {
	d, err := NewDetector(24, false, DefaultThreshold)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	// -1 in 24-bit two's complement
	if !d.IsSilentFrame([]byte{0xFF, 0xFF, 0xFF}) {
		t.Error("Expected -1 to be silent")
	}
	// -4194304 (half scale)
	if d.IsSilentFrame([]byte{0x00, 0x00, 0xC0}) {
		t.Error("Expected half scale negative to be loud")
	}
}

func TestIsSilentFrameFloat(t *testing.T) {
	d, err := NewDetector(32, true, DefaultThreshold)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	frame := func(v float32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		return b
	}

	if !d.IsSilentFrame(frame(0.001)) {
		t.Error("Expected 0.001 to be silent")
	}
	if d.IsSilentFrame(frame(-0.5)) {
		t.Error("Expected -0.5 to be loud")
	}
}
