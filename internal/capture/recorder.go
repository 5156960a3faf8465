package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeviceUnavailable is returned when the capture device is claimed by
// another recorder or rejects the requested format.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Recorder is the contract shared by all capture variants.
type Recorder interface {
	// SaveFileExt is the extension, with leading dot, of the files produced.
	SaveFileExt() string
	// StartRecording begins capturing into dest. It returns once the device is open.
	StartRecording(ctx context.Context, dest string) error
	// StopRecording ends the capture and returns the finished file path. It is
	// a no-op returning "" when nothing is being recorded.
	StopRecording() (string, error)
	// ReleaseRecorder frees every resource held, in any state.
	ReleaseRecorder()
	// Status reports the current capture.
	Status() Status
}

// Variant selects a recorder implementation.
type Variant string

const (
	VariantDeviceBuffer Variant = "device_buffer"
	VariantContainer    Variant = "container"
)

// ParseVariant validates s.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantDeviceBuffer, VariantContainer:
		return v, nil
	default:
		return "", fmt.Errorf("unknown recorder variant %q", s)
	}
}

// Status is a snapshot of a recorder.
type Status struct {
	Variant      Variant   `json:"variant"`
	Recording    bool      `json:"recording"`
	Path         string    `json:"path,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	BytesWritten int64     `json:"bytes_written"`
}
