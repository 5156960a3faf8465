package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// HeaderSize is the size of the canonical header written by this package.
	HeaderSize = 44

	FormatPCM        uint16 = 1
	FormatIEEEFloat  uint16 = 3
	formatExtensible uint16 = 0xFFFE
)

// ErrMalformedHeader is returned when a file is not a readable RIFF/WAVE file.
var ErrMalformedHeader = errors.New("malformed WAV header")

// WAVHeader represents the header structure of a canonical WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM, 3 for IEEE float
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WavData is the structured form of a WAV header plus the location of the
// sample data inside the file.
type WavData struct {
	FileSize      int64  `json:"file_size"`
	AudioFormat   uint16 `json:"audio_format"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
	SampleRate    int    `json:"sample_rate"`
	ByteRate      int    `json:"byte_rate"`
	BlockAlign    int    `json:"block_align"`
	DataOffset    int64  `json:"data_offset"`
	DataSize      int64  `json:"data_size"`
}

// NewWavData derives a canonical header description for dataSize bytes of samples.
func NewWavData(sampleRate, channels, bitsPerSample int, format uint16, dataSize int64) WavData {
	return WavData{
		FileSize:      HeaderSize + dataSize,
		AudioFormat:   format,
		Channels:      channels,
		BitsPerSample: bitsPerSample,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * channels * bitsPerSample / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		DataOffset:    HeaderSize,
		DataSize:      dataSize,
	}
}

// WithDataSize returns a copy describing a canonical file holding dataSize bytes.
func (d WavData) WithDataSize(dataSize int64) WavData {
	return NewWavData(d.SampleRate, d.Channels, d.BitsPerSample, d.AudioFormat, dataSize)
}

// IsFloat reports whether samples are IEEE floats.
func (d WavData) IsFloat() bool {
	return d.AudioFormat == FormatIEEEFloat
}

// FrameCount returns the number of complete sample frames in the data chunk.
func (d WavData) FrameCount() int64 {
	if d.BlockAlign <= 0 {
		return 0
	}
	return d.DataSize / int64(d.BlockAlign)
}

// Duration returns DataSize / ByteRate.
func (d WavData) Duration() time.Duration {
	if d.ByteRate <= 0 {
		return 0
	}
	return time.Duration(d.DataSize * int64(time.Second) / int64(d.ByteRate))
}

// Validate checks the byteRate and blockAlign invariants.
func (d WavData) Validate() error {
	if d.Channels < 1 {
		return fmt.Errorf("%w: channel count %d", ErrMalformedHeader, d.Channels)
	}
	if d.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrMalformedHeader, d.SampleRate)
	}
	switch d.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrMalformedHeader, d.BitsPerSample)
	}
	if want := d.SampleRate * d.Channels * d.BitsPerSample / 8; d.ByteRate != want {
		return fmt.Errorf("%w: byte rate %d, expected %d", ErrMalformedHeader, d.ByteRate, want)
	}
	if want := d.Channels * d.BitsPerSample / 8; d.BlockAlign != want {
		return fmt.Errorf("%w: block align %d, expected %d", ErrMalformedHeader, d.BlockAlign, want)
	}
	return nil
}

// Header builds the canonical 44-byte header for d.
func (d WavData) Header() WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(HeaderSize - 8 + d.DataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   d.AudioFormat,
		NumChannels:   uint16(d.Channels),
		SampleRate:    uint32(d.SampleRate),
		ByteRate:      uint32(d.ByteRate),
		BlockAlign:    uint16(d.BlockAlign),
		BitsPerSample: uint16(d.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(d.DataSize),
	}
}

// WriteHeader writes the canonical header for d.
func WriteHeader(w io.Writer, d WavData) error {
	if err := binary.Write(w, binary.LittleEndian, d.Header()); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// WriteWAV writes a canonical header for d followed by d.DataSize bytes read
// from data. DataSize must hold a whole number of frames.
func WriteWAV(w io.Writer, d WavData, data io.Reader) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.DataSize%int64(d.BlockAlign) != 0 {
		return fmt.Errorf("data length %d is not a multiple of block align %d", d.DataSize, d.BlockAlign)
	}

	bw := bufio.NewWriter(w)
	if err := WriteHeader(bw, d); err != nil {
		return err
	}
	if _, err := io.CopyN(bw, data, d.DataSize); err != nil {
		return fmt.Errorf("failed to copy samples: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

// ReadWavData parses all header fields. Chunks between "fmt " and "data"
// (LIST, fact, ...) are skipped, so headers larger than HeaderSize are accepted.
func ReadWavData(r io.ReadSeeker) (WavData, error) {
	fileLen, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return WavData{}, fmt.Errorf("failed to determine file length: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return WavData{}, fmt.Errorf("failed to rewind file: %w", err)
	}

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WavData{}, fmt.Errorf("%w: file too short (%d bytes)", ErrMalformedHeader, fileLen)
	}
	if string(riff[0:4]) != "RIFF" {
		return WavData{}, fmt.Errorf("%w: missing RIFF header", ErrMalformedHeader)
	}
	if string(riff[8:12]) != "WAVE" {
		return WavData{}, fmt.Errorf("%w: missing WAVE format", ErrMalformedHeader)
	}

	riffEnd := int64(binary.LittleEndian.Uint32(riff[4:8])) + 8
	if riffEnd > fileLen {
		return WavData{}, fmt.Errorf("%w: RIFF size %d exceeds file length %d", ErrMalformedHeader, riffEnd, fileLen)
	}

	d := WavData{FileSize: fileLen}
	var haveFmt, haveData bool

	pos := int64(12)
	for pos+8 <= riffEnd && !(haveFmt && haveData) {
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return WavData{}, fmt.Errorf("failed to seek to chunk at %d: %w", pos, err)
		}

		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return WavData{}, fmt.Errorf("%w: truncated chunk header at %d", ErrMalformedHeader, pos)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		body := pos + 8

		if body+size > fileLen {
			return WavData{}, fmt.Errorf("%w: chunk %q size %d exceeds file length %d", ErrMalformedHeader, id, size, fileLen)
		}

		switch id {
		case "fmt ":
			if err := parseFmtChunk(r, size, &d); err != nil {
				return WavData{}, err
			}
			haveFmt = true
		case "data":
			d.DataOffset = body
			d.DataSize = size
			haveData = true
		}

		// chunks are word aligned
		pos = body + size + size&1
	}

	if !haveFmt {
		return WavData{}, fmt.Errorf("%w: missing fmt chunk", ErrMalformedHeader)
	}
	if !haveData {
		return WavData{}, fmt.Errorf("%w: missing data chunk", ErrMalformedHeader)
	}
	if err := d.Validate(); err != nil {
		return WavData{}, err
	}

	return d, nil
}

func parseFmtChunk(r io.Reader, size int64, d *WavData) error {
	if size < 16 {
		return fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrMalformedHeader, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("%w: truncated fmt chunk", ErrMalformedHeader)
	}

	d.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
	d.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
	d.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
	d.ByteRate = int(binary.LittleEndian.Uint32(body[8:12]))
	d.BlockAlign = int(binary.LittleEndian.Uint16(body[12:14]))
	d.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))

	// WAVE_FORMAT_EXTENSIBLE keeps the real format in the first two bytes of the sub-format GUID.
	if d.AudioFormat == formatExtensible && size >= 26 {
		d.AudioFormat = binary.LittleEndian.Uint16(body[24:26])
	}

	switch d.AudioFormat {
	case FormatPCM, FormatIEEEFloat:
		return nil
	default:
		return fmt.Errorf("%w: unsupported audio format %d", ErrMalformedHeader, d.AudioFormat)
	}
}

// CalculateDuration returns the play time of the data chunk.
func CalculateDuration(r io.ReadSeeker) (time.Duration, error) {
	d, err := ReadWavData(r)
	if err != nil {
		return 0, err
	}
	return d.Duration(), nil
}

// CalculateFileDuration opens path and returns its WAV duration.
func CalculateFileDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return CalculateDuration(f)
}

// ReadFileWavData opens path and parses its header.
func ReadFileWavData(path string) (WavData, error) {
	f, err := os.Open(path)
	if err != nil {
		return WavData{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return ReadWavData(f)
}

// WrapPCM writes a WAV file at wavPath holding the raw little-endian samples
// stored at pcmPath. The pcm file is left in place.
func WrapPCM(pcmPath, wavPath string, d WavData) (WavData, error) {
	in, err := os.Open(pcmPath)
	if err != nil {
		return WavData{}, fmt.Errorf("failed to open pcm file: %w", err)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return WavData{}, fmt.Errorf("failed to stat pcm file: %w", err)
	}

	size := st.Size()
	if d.BlockAlign > 0 {
		// a partial trailing frame cannot be played back
		size -= size % int64(d.BlockAlign)
	}
	d = d.WithDataSize(size)
	if err := d.Validate(); err != nil {
		return WavData{}, err
	}

	out, err := os.Create(wavPath)
	if err != nil {
		return WavData{}, fmt.Errorf("failed to create wav file: %w", err)
	}

	if err := WriteWAV(out, d, io.NewSectionReader(in, 0, size)); err != nil {
		out.Close()
		os.Remove(wavPath)
		return WavData{}, err
	}

	if err := out.Close(); err != nil {
		os.Remove(wavPath)
		return WavData{}, fmt.Errorf("failed to close wav file: %w", err)
	}

	return d, nil
}
