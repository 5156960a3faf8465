package mp3

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

// FFmpegFactory creates engines backed by an ffmpeg libmp3lame subprocess
// reading raw PCM on stdin.
type FFmpegFactory struct {
	Command string
}

// NewFFmpegFactory creates a factory using command, "ffmpeg" when empty.
func NewFFmpegFactory(command string) *FFmpegFactory {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegFactory{Command: command}
}

// NewEngine starts ffmpeg. Its MP3 output is copied to out until Close.
func (f *FFmpegFactory) NewEngine(ctx context.Context, p EngineParams, out io.Writer) (Engine, error) {
	if p.Channels != 1 && p.Channels != 2 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrEncoderFailure, p.Channels)
	}

	input := "s16le"
	if p.Float {
		input = "f32le"
	}

	cmd := exec.CommandContext(ctx, f.Command,
		"-hide_banner",
		"-loglevel", "error",
		"-f", input,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-i", "pipe:0",
		"-c:a", "libmp3lame",
		"-b:a", strconv.Itoa(p.BitrateKbps)+"k",
		"-f", "mp3",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrEncoderFailure, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrEncoderFailure, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrEncoderFailure, err)
	}

	e := &ffmpegEngine{
		cmd:      cmd,
		stdin:    stdin,
		in:       bufio.NewWriterSize(stdin, 64*1024),
		stderr:   &stderr,
		channels: p.Channels,
		copyDone: make(chan error, 1),
	}

	go func() {
		_, err := io.Copy(out, stdout)
		e.copyDone <- err
	}()

	return e, nil
}

type ffmpegEngine struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	in       *bufio.Writer
	stderr   *bytes.Buffer
	channels int
	copyDone chan error

	closeOnce sync.Once
	closeErr  error
}

func (e *ffmpegEngine) write(b []byte) error {
	if _, err := e.in.Write(b); err != nil {
		return fmt.Errorf("write to ffmpeg: %w", err)
	}
	return nil
}

func (e *ffmpegEngine) EncodeInterleaved(samples []int16) error {
	return e.write(audio.Int16ToBytes(samples))
}

func (e *ffmpegEngine) EncodePlanar(left, right []int16) error {
	if e.channels == 1 {
		return e.write(audio.Int16ToBytes(left))
	}
	return e.write(audio.Int16ToBytes(interleave(left, right)))
}

func (e *ffmpegEngine) EncodeInterleavedFloat(samples []float32) error {
	return e.write(audio.Float32ToBytes(samples))
}

func (e *ffmpegEngine) EncodePlanarFloat(left, right []float32) error {
	if e.channels == 1 {
		return e.write(audio.Float32ToBytes(left))
	}
	return e.write(audio.Float32ToBytes(interleave(left, right)))
}

// Close flushes the remaining input, lets ffmpeg write the last frames and
// waits for the output copy to finish.
func (e *ffmpegEngine) Close() error {
	e.closeOnce.Do(func() {
		var errs []error
		if err := e.in.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush ffmpeg input: %w", err))
		}
		if err := e.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ffmpeg input: %w", err))
		}
		if err := <-e.copyDone; err != nil {
			errs = append(errs, fmt.Errorf("copy ffmpeg output: %w", err))
		}
		if err := e.cmd.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(e.stderr.Bytes())))
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

func interleave[T int16 | float32](left, right []T) []T {
	n := min(len(left), len(right))
	out := make([]T, 2*n)
	for i := 0; i < n; i++ {
		out[2*i] = left[i]
		out[2*i+1] = right[i]
	}
	return out
}
