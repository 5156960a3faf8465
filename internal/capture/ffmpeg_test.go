package capture

import (
	"context"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

func TestFFmpegDeviceReadsPCM(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skipf("ffmpeg not available: %v", err)
	}

	f := NewFFmpeg(FFmpegConfig{
		InputFormat: "lavfi",
		InputDevice: "sine=frequency=440:sample_rate=8000",
	})

	dev, err := f.Open(context.Background(), Params{SampleRate: 8000, Channels: 1, Encoding: audio.EncodingPCM16})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer dev.Close()

	buf := make([]byte, 1600)
	if _, err := io.ReadFull(dev, buf); err != nil {
		t.Fatalf("Failed to read samples: %v", err)
	}

	var nonZero int
	for _, s := range audio.BytesToInt16(buf) {
		if s != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Error("Expected a sine wave, got silence")
	}

	if err := dev.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestRawFormat(t *testing.T) {
	tests := map[audio.SampleEncoding]string{
		audio.EncodingPCM8:     "u8",
		audio.EncodingPCM16:    "s16le",
		audio.EncodingPCMFloat: "f32le",
	}
	for enc, expected := range tests {
		if got := rawFormat(enc); got != expected {
			t.Errorf("rawFormat(%s): expected %s, got %s", enc, expected, got)
		}
	}
}

// fakeFFmpeg is a stand-in that idles until SIGINT, then writes 32000 bytes
// of 0x7f to stdout and exits.
const fakeFFmpeg = `#!/bin/sh
trap 'head -c 32000 /dev/zero | tr "\\000" "\\177"; exit 0' INT
while :; do sleep 0.05; done
`

func TestFFmpegDeviceDeliversOutputFlushedOnStop(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if signal.Ignored(os.Interrupt) {
		t.Skip("SIGINT is ignored and would be for the child too")
	}
	for _, tool := range []string{"sh", "head", "tr"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available: %v", tool, err)
		}
	}

	script := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(script, []byte(fakeFFmpeg), 0o755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c := NewDeviceBufferCapturer(NewFFmpeg(FFmpegConfig{Command: script}), NewDeviceLock(), pcm16Mono, testLogger())
	dest := filepath.Join(t.TempDir(), "call.wav")
	if err := c.StartRecording(context.Background(), dest); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	path, err := c.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	info, err := audio.ReadFileWavData(path)
	if err != nil {
		t.Fatalf("ReadFileWavData failed: %v", err)
	}
	if info.DataSize != 32000 {
		t.Errorf("Expected the 32000 flushed bytes, got %d", info.DataSize)
	}
}
