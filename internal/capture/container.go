package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Encoder is a running container encoder that captures, encodes and muxes on
// its own.
type Encoder interface {
	// Stop asks the encoder to finish the container and waits for it to exit.
	Stop() error
}

// EncoderLauncher starts container encoders writing to dest.
type EncoderLauncher interface {
	Launch(ctx context.Context, p Params, dest string) (Encoder, error)
}

// ContainerRecorder records AAC audio in an MPEG-4 container through an
// external encoder. It has no per-sample control.
type ContainerRecorder struct {
	launcher EncoderLauncher
	lock     *DeviceLock
	params   Params
	logger   *slog.Logger

	mu      sync.Mutex
	claim   *Claim
	encoder Encoder
	path    string
	started time.Time
}

// NewContainerRecorder creates a container recorder.
func NewContainerRecorder(launcher EncoderLauncher, lock *DeviceLock, params Params, logger *slog.Logger) *ContainerRecorder {
	return &ContainerRecorder{
		launcher: launcher,
		lock:     lock,
		params:   params,
		logger:   logger.With("recorder", string(VariantContainer)),
	}
}

// SaveFileExt returns ".m4a".
func (r *ContainerRecorder) SaveFileExt() string {
	return ".m4a"
}

// StartRecording claims the device and launches the encoder. A second start
// while recording fails with ErrDeviceUnavailable.
func (r *ContainerRecorder) StartRecording(ctx context.Context, dest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder != nil {
		return fmt.Errorf("%w: already recording to %s", ErrDeviceUnavailable, r.path)
	}

	claim, err := r.lock.TryClaim()
	if err != nil {
		return err
	}

	path := strings.TrimSuffix(dest, filepath.Ext(dest)) + r.SaveFileExt()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		claim.Release()
		return fmt.Errorf("failed to create save directory: %w", err)
	}

	enc, err := r.launcher.Launch(ctx, r.params, path)
	if err != nil {
		claim.Release()
		os.Remove(path)
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.claim = claim
	r.encoder = enc
	r.path = path
	r.started = time.Now()

	r.logger.Info("Capture started", "path", path)
	return nil
}

// StopRecording finishes the container and returns its path.
func (r *ContainerRecorder) StopRecording() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return "", nil
	}

	path := r.path
	err := r.reset()
	if err != nil {
		return "", fmt.Errorf("failed to stop encoder: %w", err)
	}

	r.logger.Info("Capture stopped", "path", path)
	return path, nil
}

func (r *ContainerRecorder) reset() error {
	err := r.encoder.Stop()
	r.claim.Release()
	r.claim = nil
	r.encoder = nil
	r.path = ""
	r.started = time.Time{}
	return err
}

// ReleaseRecorder stops the encoder if running and releases the device.
func (r *ContainerRecorder) ReleaseRecorder() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	if err := r.reset(); err != nil {
		r.logger.Error("Failed to stop encoder on release", "error", err)
	}
}

// Status returns a snapshot of the current capture.
func (r *ContainerRecorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{Variant: VariantContainer}
	if r.encoder != nil {
		st.Recording = true
		st.Path = r.path
		st.StartedAt = r.started
		if fi, err := os.Stat(r.path); err == nil {
			st.BytesWritten = fi.Size()
		}
	}
	return st
}
