package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

const (
	fileBufferSize = 64 * 1024
	// drainTimeout bounds how long an interrupted device may keep flushing.
	drainTimeout = 3 * time.Second
)

// DeviceBufferCapturer reads raw samples from a Device on a dedicated goroutine
// and writes them to disk. Samples go to "<name>.pcm" while recording; on stop
// the pcm file is wrapped into "<name>.wav".
//
// StartRecording while a capture is running is ignored and returns nil.
type DeviceBufferCapturer struct {
	opener DeviceOpener
	lock   *DeviceLock
	params Params
	logger *slog.Logger

	mu      sync.Mutex
	session *bufferSession
}

type bufferSession struct {
	claim   *Claim
	device  Device
	file    *os.File
	pcmPath string
	wavPath string
	started time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	draining atomic.Bool

	written atomic.Int64
	readErr error
}

// NewDeviceBufferCapturer creates a capturer for params.
func NewDeviceBufferCapturer(opener DeviceOpener, lock *DeviceLock, params Params, logger *slog.Logger) *DeviceBufferCapturer {
	return &DeviceBufferCapturer{
		opener: opener,
		lock:   lock,
		params: params,
		logger: logger.With("recorder", string(VariantDeviceBuffer)),
	}
}

// SaveFileExt returns ".wav".
func (c *DeviceBufferCapturer) SaveFileExt() string {
	return ".wav"
}

// StartRecording claims the device, opens it and starts the write loop.
func (c *DeviceBufferCapturer) StartRecording(ctx context.Context, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.logger.Warn("Start ignored, capture already running",
			"active", c.session.wavPath,
			"requested", dest)
		return nil
	}

	if err := c.params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	claim, err := c.lock.TryClaim()
	if err != nil {
		return err
	}

	s, err := c.open(ctx, claim, dest)
	if err != nil {
		claim.Release()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	c.session = s

	go c.writeLoop(loopCtx, s)

	c.logger.Info("Capture started",
		"path", s.wavPath,
		"sample_rate", c.params.SampleRate,
		"channels", c.params.Channels,
		"encoding", string(c.params.Encoding))

	return nil
}

func (c *DeviceBufferCapturer) open(ctx context.Context, claim *Claim, dest string) (*bufferSession, error) {
	wavPath := strings.TrimSuffix(dest, filepath.Ext(dest)) + c.SaveFileExt()
	pcmPath := strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + ".pcm"

	if err := os.MkdirAll(filepath.Dir(wavPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}

	device, err := c.opener.Open(ctx, c.params)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	file, err := os.Create(pcmPath)
	if err != nil {
		device.Close()
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	return &bufferSession{
		claim:   claim,
		device:  device,
		file:    file,
		pcmPath: pcmPath,
		wavPath: wavPath,
		started: time.Now(),
		done:    make(chan struct{}),
	}, nil
}

// writeLoop copies device reads into the pcm file until ctx is cancelled or
// the device stops producing data. The file is flushed and closed on exit.
func (c *DeviceBufferCapturer) writeLoop(ctx context.Context, s *bufferSession) {
	defer close(s.done)

	buf := make([]byte, MinBufferSize(c.params))
	w := bufio.NewWriterSize(s.file, fileBufferSize)

	var loopErr error
	for ctx.Err() == nil {
		n, err := s.device.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				loopErr = fmt.Errorf("failed to write samples: %w", werr)
				break
			}
			s.written.Add(int64(n))
		}
		if err != nil {
			// reads end once StopRecording interrupts or closes the device
			if ctx.Err() == nil && !(s.draining.Load() && errors.Is(err, io.EOF)) {
				loopErr = fmt.Errorf("device read failed: %w", err)
			}
			break
		}
	}

	if err := w.Flush(); err != nil && loopErr == nil {
		loopErr = fmt.Errorf("failed to flush capture file: %w", err)
	}
	if err := s.file.Close(); err != nil && loopErr == nil {
		loopErr = fmt.Errorf("failed to close capture file: %w", err)
	}

	s.readErr = loopErr
}

// StopRecording stops the write loop, waits for the file to be closed and
// wraps it into a WAV file.
func (c *DeviceBufferCapturer) StopRecording() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return "", nil
	}
	c.session = nil

	return c.finish(s)
}

func (c *DeviceBufferCapturer) finish(s *bufferSession) (string, error) {
	defer s.claim.Release()

	// an interruptible device flushes its tail, which is read up to io.EOF
	if in, ok := s.device.(Interrupter); ok {
		s.draining.Store(true)
		if err := in.Interrupt(); err != nil {
			c.logger.Debug("Device interrupt returned error", "error", err)
		}
		select {
		case <-s.done:
		case <-time.After(drainTimeout):
			c.logger.Warn("Device did not drain in time, closing", "path", s.wavPath)
		}
	}

	s.cancel()
	closeErr := s.device.Close()
	<-s.done

	if s.readErr != nil {
		// keep what was captured before the failure
		c.logger.Warn("Capture ended early", "path", s.wavPath, "error", s.readErr)
	}
	if closeErr != nil {
		c.logger.Debug("Device close returned error", "error", closeErr)
	}

	d, err := audio.WrapPCM(s.pcmPath, s.wavPath, c.params.WavData())
	if err != nil {
		c.logger.Error("Failed to finalize capture, raw samples kept",
			"pcm_path", s.pcmPath,
			"path", s.wavPath,
			"error", err)
		return "", fmt.Errorf("failed to finalize %s (raw samples kept at %s): %w", s.wavPath, s.pcmPath, err)
	}
	if err := os.Remove(s.pcmPath); err != nil {
		c.logger.Warn("Failed to remove pcm file", "path", s.pcmPath, "error", err)
	}

	c.logger.Info("Capture stopped",
		"path", s.wavPath,
		"bytes", d.DataSize,
		"duration", d.Duration())

	return s.wavPath, nil
}

// ReleaseRecorder stops any running capture and releases the device.
func (c *DeviceBufferCapturer) ReleaseRecorder() {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return
	}
	c.session = nil

	if _, err := c.finish(s); err != nil {
		c.logger.Error("Failed to finalize capture on release", "error", err)
	}
}

// Status returns a snapshot of the current capture.
func (c *DeviceBufferCapturer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Variant: VariantDeviceBuffer}
	if s := c.session; s != nil {
		st.Recording = true
		st.Path = s.wavPath
		st.StartedAt = s.started
		st.BytesWritten = s.written.Load()
	}
	return st
}
