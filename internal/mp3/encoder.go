package mp3

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

// Convention selects how samples are handed to the engine.
type Convention int

const (
	Interleaved Convention = iota
	Planar
)

func (c Convention) String() string {
	if c == Planar {
		return "planar"
	}
	return "interleaved"
}

const (
	defaultBitrateKbps = 128
	defaultChunkFrames = 4096
)

// Options tune an Encoder.
type Options struct {
	Convention  Convention
	BitrateKbps int
	ChunkFrames int
}

// Job is one WAV to MP3 conversion.
type Job struct {
	WavData audio.WavData
	WavPath string
	Mp3Path string
}

// Encoder converts WAV files to MP3.
type Encoder struct {
	factory EngineFactory
	opts    Options
	logger  *slog.Logger
}

// NewEncoder creates an encoder over factory.
func NewEncoder(factory EngineFactory, opts Options, logger *slog.Logger) *Encoder {
	if opts.BitrateKbps <= 0 {
		opts.BitrateKbps = defaultBitrateKbps
	}
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = defaultChunkFrames
	}
	return &Encoder{factory: factory, opts: opts, logger: logger}
}

// NewJob reads the header of wavPath and builds a job writing to mp3Path.
func NewJob(wavPath, mp3Path string) (Job, error) {
	d, err := audio.ReadFileWavData(wavPath)
	if err != nil {
		return Job{}, err
	}
	return Job{WavData: d, WavPath: wavPath, Mp3Path: mp3Path}, nil
}

// Widen8To16 returns the header view of an 8-bit file after each sample is
// widened to 16 bits. Chunks other than data keep their size, so the file
// grows by exactly DataSize.
func Widen8To16(d audio.WavData) audio.WavData {
	w := d
	w.BitsPerSample = 16
	w.ByteRate = d.SampleRate * d.Channels * 2
	w.BlockAlign = d.Channels * 2
	w.DataSize = d.DataSize * 2
	w.FileSize = d.FileSize + d.DataSize
	return w
}

// Convert encodes job.WavPath into job.Mp3Path. A partial MP3 is removed on failure.
func (e *Encoder) Convert(ctx context.Context, job Job) error {
	start := time.Now()

	enc, err := audio.EncodingFor(job.WavData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}
	if job.WavData.BlockAlign <= 0 {
		return fmt.Errorf("%w: invalid block align %d", ErrEncoderFailure, job.WavData.BlockAlign)
	}

	in, err := os.Open(job.WavPath)
	if err != nil {
		return fmt.Errorf("failed to open wav: %w", err)
	}
	defer in.Close()

	out, err := os.Create(job.Mp3Path)
	if err != nil {
		return fmt.Errorf("failed to create mp3: %w", err)
	}

	if err := e.encodeFile(ctx, job, enc, in, out); err != nil {
		out.Close()
		os.Remove(job.Mp3Path)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(job.Mp3Path)
		return fmt.Errorf("failed to close mp3: %w", err)
	}

	e.logger.Info("Converted to MP3",
		"wav", job.WavPath,
		"mp3", job.Mp3Path,
		"encoding", string(enc),
		"convention", e.opts.Convention.String(),
		"elapsed", time.Since(start))

	return nil
}

func (e *Encoder) encodeFile(ctx context.Context, job Job, enc audio.SampleEncoding, in io.ReaderAt, out io.Writer) error {
	view := job.WavData
	if enc == audio.EncodingPCM8 {
		view = Widen8To16(view)
	}

	params := EngineParams{
		SampleRate:  view.SampleRate,
		Channels:    view.Channels,
		Float:       enc == audio.EncodingPCMFloat,
		BitrateKbps: e.opts.BitrateKbps,
	}

	w := bufio.NewWriter(out)
	data := io.NewSectionReader(in, job.WavData.DataOffset, job.WavData.DataSize)
	te := typedEncoderFor(enc, job.WavData.Channels, e.opts.Convention)

	err := WithEngine(ctx, e.factory, params, w, func(engine Engine) error {
		buf := make([]byte, e.opts.ChunkFrames*job.WavData.BlockAlign)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			n, err := io.ReadFull(data, buf)
			// drop a partial trailing frame
			n -= n % job.WavData.BlockAlign
			if n > 0 {
				if encErr := te.encode(engine, buf[:n]); encErr != nil {
					return fmt.Errorf("%w: %v", ErrEncoderFailure, encErr)
				}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read samples: %w", err)
			}
		}
	})
	if err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write mp3: %w", err)
	}
	return nil
}

// typedEncoder adapts one stored sample width to the engine.
type typedEncoder interface {
	encode(engine Engine, chunk []byte) error
}

func typedEncoderFor(enc audio.SampleEncoding, channels int, conv Convention) typedEncoder {
	switch enc {
	case audio.EncodingPCM8:
		return pcm8Encoder{pcm16Encoder{channels: channels, conv: conv}}
	case audio.EncodingPCMFloat:
		return floatEncoder{channels: channels, conv: conv}
	default:
		return pcm16Encoder{channels: channels, conv: conv}
	}
}

type pcm16Encoder struct {
	channels int
	conv     Convention
}

func (p pcm16Encoder) encode(engine Engine, chunk []byte) error {
	return p.encodeSamples(engine, audio.BytesToInt16(chunk))
}

func (p pcm16Encoder) encodeSamples(engine Engine, samples []int16) error {
	if p.conv == Planar {
		left, right := audio.Deinterleave(samples, p.channels)
		return engine.EncodePlanar(left, right)
	}
	return engine.EncodeInterleaved(samples)
}

// pcm8Encoder widens unsigned 8-bit samples and delegates to the 16-bit path.
type pcm8Encoder struct {
	pcm16 pcm16Encoder
}

func (p pcm8Encoder) encode(engine Engine, chunk []byte) error {
	return p.pcm16.encodeSamples(engine, audio.Convert8BitTo16Bit(chunk))
}

type floatEncoder struct {
	channels int
	conv     Convention
}

func (f floatEncoder) encode(engine Engine, chunk []byte) error {
	samples := audio.BytesToFloat32(chunk)
	if f.conv == Planar {
		left, right := audio.Deinterleave(samples, f.channels)
		return engine.EncodePlanarFloat(left, right)
	}
	return engine.EncodeInterleavedFloat(samples)
}
