package storage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

// FileMeter measures the play time of recording files.
type FileMeter struct {
	ffprobe string
}

// NewFileMeter creates a meter; ffprobe is the fallback binary for containers
// without a native parser, "ffprobe" when empty.
func NewFileMeter(ffprobe string) *FileMeter {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &FileMeter{ffprobe: ffprobe}
}

// Duration returns the play time of path based on its extension.
func (m *FileMeter) Duration(ctx context.Context, path string) (time.Duration, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return audio.CalculateFileDuration(path)
	case ".mp3":
		d, err := mp3Duration(path)
		if err == nil {
			return d, nil
		}
		// go-mp3 only decodes MPEG-1 layer III
		return m.ffprobeDuration(ctx, path)
	default:
		return m.ffprobeDuration(ctx, path)
	}
}

func mp3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("failed to decode mp3: %w", err)
	}
	if dec.SampleRate() <= 0 {
		return 0, fmt.Errorf("mp3 has no sample rate")
	}

	// decoded output is always 16-bit stereo
	frames := dec.Length() / 4
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate()), nil
}

func (m *FileMeter) ffprobeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, m.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparsable duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
