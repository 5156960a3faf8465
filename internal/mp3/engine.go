package mp3

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrEncoderFailure is returned when the engine cannot be created or rejects input.
var ErrEncoderFailure = errors.New("mp3 encoder failure")

// EngineParams configures one encoding job.
type EngineParams struct {
	SampleRate  int
	Channels    int
	Float       bool
	BitrateKbps int
}

// Engine is an MP3 encoder context. It is created once per job, fed any
// number of buffers and closed exactly once, which flushes the final frames.
type Engine interface {
	// EncodePlanar encodes one buffer per channel. right is ignored for mono.
	EncodePlanar(left, right []int16) error
	// EncodeInterleaved encodes frames of Channels interleaved samples.
	EncodeInterleaved(samples []int16) error
	EncodePlanarFloat(left, right []float32) error
	EncodeInterleavedFloat(samples []float32) error
	Close() error
}

// EngineFactory creates engines writing MP3 data to out.
type EngineFactory interface {
	NewEngine(ctx context.Context, p EngineParams, out io.Writer) (Engine, error)
}

// WithEngine runs fn with a fresh engine and closes it exactly once, whether
// or not fn fails.
func WithEngine(ctx context.Context, factory EngineFactory, p EngineParams, out io.Writer, fn func(Engine) error) (err error) {
	engine, err := factory.NewEngine(ctx, p, out)
	if err != nil {
		if errors.Is(err, ErrEncoderFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}

	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: close: %v", ErrEncoderFailure, closeErr))
		}
	}()

	return fn(engine)
}
