package capture

import (
	"context"
	"fmt"
	"io"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

// Params is the sample layout requested from a capture device.
type Params struct {
	SampleRate int                  `json:"sample_rate"`
	Channels   int                  `json:"channels"`
	Encoding   audio.SampleEncoding `json:"encoding"`
}

// Validate checks the layout.
func (p Params) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.Channels != 1 && p.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", p.Channels)
	}
	if _, err := audio.ParseSampleEncoding(string(p.Encoding)); err != nil {
		return err
	}
	return nil
}

// WavData returns the header description of a file captured with p.
func (p Params) WavData() audio.WavData {
	return audio.NewWavData(p.SampleRate, p.Channels, p.Encoding.BitsPerSample(), p.Encoding.Format(), 0)
}

// FrameSize returns the bytes per frame.
func (p Params) FrameSize() int {
	return audio.FrameSize(p.Channels, p.Encoding)
}

const minBufferMillis = 20

// MinBufferSize returns the read size for p: 20ms of audio rounded up to a
// whole frame, never less than one frame.
func MinBufferSize(p Params) int {
	frames := (p.SampleRate*minBufferMillis + 999) / 1000
	if frames < 1 {
		frames = 1
	}
	return frames * p.FrameSize()
}

// Device is an open capture source producing interleaved little-endian
// samples. Read blocks until data is available; Close unblocks a pending Read.
type Device interface {
	io.ReadCloser
}

// Interrupter is implemented by devices that flush buffered samples when
// asked to stop. After Interrupt, Read returns the remaining samples and then
// io.EOF.
type Interrupter interface {
	Interrupt() error
}

// DeviceOpener opens capture devices.
type DeviceOpener interface {
	Open(ctx context.Context, p Params) (Device, error)
}
