package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

const (
	ffmpegStartupGrace = 250 * time.Millisecond
	ffmpegStopTimeout  = 1200 * time.Millisecond
)

// FFmpegConfig selects the ffmpeg binary and the capture input.
type FFmpegConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	AACBitrate  string
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	if c.AACBitrate == "" {
		c.AACBitrate = "64k"
	}
	return c
}

// FFmpeg opens capture devices and container encoders backed by an ffmpeg
// subprocess.
type FFmpeg struct {
	cfg FFmpegConfig
}

// NewFFmpeg creates an ffmpeg backend.
func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	return &FFmpeg{cfg: cfg.withDefaults()}
}

// Check verifies the ffmpeg binary can be found.
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.cfg.Command); err != nil {
		return fmt.Errorf("%s not found: %w", f.cfg.Command, err)
	}
	return nil
}

func rawFormat(enc audio.SampleEncoding) string {
	switch enc {
	case audio.EncodingPCM8:
		return "u8"
	case audio.EncodingPCMFloat:
		return "f32le"
	default:
		return "s16le"
	}
}

func (f *FFmpeg) inputArgs(p Params) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", f.cfg.InputFormat,
		"-i", f.cfg.InputDevice,
		"-ac", strconv.Itoa(p.Channels),
		"-ar", strconv.Itoa(p.SampleRate),
	}
}

// Open starts ffmpeg streaming raw PCM in the layout of p on stdout.
func (f *FFmpeg) Open(ctx context.Context, p Params) (Device, error) {
	args := append(f.inputArgs(p), "-f", rawFormat(p.Encoding), "-")
	proc, err := startProcess(ctx, f.cfg.Command, args)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Launch starts ffmpeg encoding AAC into an MPEG-4 container at dest.
func (f *FFmpeg) Launch(ctx context.Context, p Params, dest string) (Encoder, error) {
	args := append(f.inputArgs(p),
		"-c:a", "aac",
		"-b:a", f.cfg.AACBitrate,
		"-f", "mp4",
		"-y", dest,
	)
	proc, err := startProcess(ctx, f.cfg.Command, args)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// ffmpegProcess is a running ffmpeg. Read yields its stdout.
//
// stdout is an os.Pipe owned by the process value rather than
// cmd.StdoutPipe, so that cmd.Wait never closes the read end: samples ffmpeg
// flushes while exiting stay readable until io.EOF.
type ffmpegProcess struct {
	stdout *os.File
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	interruptOnce sync.Once
	stopOnce      sync.Once
	stopErr       error
}

func startProcess(ctx context.Context, command string, args []string) (*ffmpegProcess, error) {
	// the process outlives ctx, which only bounds startup
	cmd := exec.Command(command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	// the child holds its own copy; ours must go for EOF to arrive
	pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	proc := &ffmpegProcess{
		stdout:  pr,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}

	select {
	case err := <-waitErr:
		pr.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		proc.Stop()
		return nil, ctx.Err()
	case <-time.After(ffmpegStartupGrace):
	}

	return proc, nil
}

func (p *ffmpegProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Interrupt asks ffmpeg to finish. Read keeps returning what ffmpeg flushes
// until it exits, then io.EOF.
func (p *ffmpegProcess) Interrupt() error {
	var err error
	p.interruptOnce.Do(func() {
		if serr := p.process.Signal(os.Interrupt); serr != nil && !errors.Is(serr, os.ErrProcessDone) {
			err = serr
		}
	})
	return err
}

func (p *ffmpegProcess) Close() error {
	return p.Stop()
}

// Stop interrupts ffmpeg so it can finalize its output, killing it if it does
// not exit in time, then closes stdout.
func (p *ffmpegProcess) Stop() error {
	p.stopOnce.Do(func() {
		_ = p.Interrupt()

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(ffmpegStopTimeout):
			_ = p.process.Kill()
			if err, ok := <-p.waitErr; ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && p.stopErr == nil {
			p.stopErr = err
		}

		if p.stopErr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, bytes.TrimSpace(p.stderr.Bytes()))
		}
	})

	return p.stopErr
}

// normalizeStopErr treats a non-zero exit after an interrupt as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
