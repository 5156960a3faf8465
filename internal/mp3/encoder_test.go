package mp3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

type fakeEngine struct {
	params      EngineParams
	out         io.Writer
	interleaved []int16
	left        []int16
	right       []int16
	floats      []float32
	leftF       []float32
	rightF      []float32
	failEncode  bool
	closed      int
}

func (e *fakeEngine) EncodePlanar(left, right []int16) error {
	if e.failEncode {
		return errors.New("engine rejected buffer")
	}
	e.left = append(e.left, left...)
	e.right = append(e.right, right...)
	return nil
}

func (e *fakeEngine) EncodeInterleaved(samples []int16) error {
	if e.failEncode {
		return errors.New("engine rejected buffer")
	}
	e.interleaved = append(e.interleaved, samples...)
	return nil
}

func (e *fakeEngine) EncodePlanarFloat(left, right []float32) error {
	e.leftF = append(e.leftF, left...)
	e.rightF = append(e.rightF, right...)
	return nil
}

func (e *fakeEngine) EncodeInterleavedFloat(samples []float32) error {
	e.floats = append(e.floats, samples...)
	return nil
}

func (e *fakeEngine) Close() error {
	e.closed++
	_, err := e.out.Write([]byte("ID3"))
	return err
}

type fakeFactory struct {
	engine *fakeEngine
	err    error
}

func (f *fakeFactory) NewEngine(ctx context.Context, p EngineParams, out io.Writer) (Engine, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.engine.params = p
	f.engine.out = out
	return f.engine, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeWav(t *testing.T, dir string, d audio.WavData, data []byte) Job {
	t.Helper()
	var wav bytes.Buffer
	if err := audio.WriteWAV(&wav, d.WithDataSize(int64(len(data))), bytes.NewReader(data)); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	path := filepath.Join(dir, "call.wav")
	if err := os.WriteFile(path, wav.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write wav: %v", err)
	}
	job, err := NewJob(path, filepath.Join(dir, "call.mp3"))
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	return job
}

func TestConvert16BitInterleaved(t *testing.T) {
	dir := t.TempDir()
	samples := []int16{1, -1, 2, -2, 3, -3, 4, -4}
	job := writeWav(t, dir, audio.NewWavData(44100, 2, 16, audio.FormatPCM, 0), audio.Int16ToBytes(samples))

	engine := &fakeEngine{}
	enc := NewEncoder(&fakeFactory{engine: engine}, Options{Convention: Interleaved, ChunkFrames: 3}, testLogger())

	if err := enc.Convert(context.Background(), job); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if engine.params.SampleRate != 44100 || engine.params.Channels != 2 || engine.params.Float {
		t.Errorf("Unexpected engine params %+v", engine.params)
	}
	if engine.params.BitrateKbps != defaultBitrateKbps {
		t.Errorf("Expected default bitrate, got %d", engine.params.BitrateKbps)
	}
	if len(engine.interleaved) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(engine.interleaved))
	}
	for i := range samples {
		if engine.interleaved[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], engine.interleaved[i])
		}
	}
	if engine.closed != 1 {
		t.Errorf("Expected engine closed once, got %d", engine.closed)
	}

	out, err := os.ReadFile(job.Mp3Path)
	if err != nil {
		t.Fatalf("Failed to read mp3: %v", err)
	}
	if string(out) != "ID3" {
		t.Errorf("Expected engine output in mp3 file, got %q", out)
	}
}

func TestConvert16BitMonoPlanarDuplicatesChannel(t *testing.T) {
	dir := t.TempDir()
	samples := []int16{10, 20, 30}
	job := writeWav(t, dir, audio.NewWavData(16000, 1, 16, audio.FormatPCM, 0), audio.Int16ToBytes(samples))

	engine := &fakeEngine{}
	enc := NewEncoder(&fakeFactory{engine: engine}, Options{Convention: Planar}, testLogger())

	if err := enc.Convert(context.Background(), job); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	for i := range samples {
		if engine.left[i] != samples[i] || engine.right[i] != samples[i] {
			t.Errorf("Frame %d: expected %d on both channels, got (%d, %d)", i, samples[i], engine.left[i], engine.right[i])
		}
	}
}

func TestConvert8BitWidensSamples(t *testing.T) {
	dir := t.TempDir()
	job := writeWav(t, dir, audio.NewWavData(8000, 1, 8, audio.FormatPCM, 0), []byte{0x00, 0x80, 0xFF})

	engine := &fakeEngine{}
	enc := NewEncoder(&fakeFactory{engine: engine}, Options{}, testLogger())

	if err := enc.Convert(context.Background(), job); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	expected := []int16{-32768, 0, 32512}
	if len(engine.interleaved) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(engine.interleaved))
	}
	for i := range expected {
		if engine.interleaved[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], engine.interleaved[i])
		}
	}
	if engine.params.Float {
		t.Error("Expected 8-bit input to use the 16-bit entry points")
	}
}

func TestConvertFloat(t *testing.T) {
	dir := t.TempDir()
	samples := []float32{0.5, -0.5, 0.25, -0.25}
	job := writeWav(t, dir, audio.NewWavData(48000, 2, 32, audio.FormatIEEEFloat, 0), audio.Float32ToBytes(samples))

	engine := &fakeEngine{}
	enc := NewEncoder(&fakeFactory{engine: engine}, Options{Convention: Planar}, testLogger())

	if err := enc.Convert(context.Background(), job); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if !engine.params.Float {
		t.Error("Expected float engine params")
	}
	if len(engine.leftF) != 2 || engine.leftF[1] != 0.25 || engine.rightF[1] != -0.25 {
		t.Errorf("Unexpected planar float buffers %v / %v", engine.leftF, engine.rightF)
	}
}

func TestConvertEngineFailureRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	job := writeWav(t, dir, audio.NewWavData(8000, 1, 16, audio.FormatPCM, 0), audio.Int16ToBytes([]int16{1, 2, 3}))

	engine := &fakeEngine{failEncode: true}
	enc := NewEncoder(&fakeFactory{engine: engine}, Options{}, testLogger())

	err := enc.Convert(context.Background(), job)
	if !errors.Is(err, ErrEncoderFailure) {
		t.Errorf("Expected ErrEncoderFailure, got %v", err)
	}
	if engine.closed != 1 {
		t.Errorf("Expected engine closed once after failure, got %d", engine.closed)
	}
	if _, statErr := os.Stat(job.Mp3Path); !os.IsNotExist(statErr) {
		t.Error("Expected partial mp3 to be removed")
	}
}

func TestConvertFactoryFailure(t *testing.T) {
	dir := t.TempDir()
	job := writeWav(t, dir, audio.NewWavData(8000, 1, 16, audio.FormatPCM, 0), audio.Int16ToBytes([]int16{1}))

	enc := NewEncoder(&fakeFactory{err: errors.New("no lame")}, Options{}, testLogger())

	if err := enc.Convert(context.Background(), job); !errors.Is(err, ErrEncoderFailure) {
		t.Errorf("Expected ErrEncoderFailure, got %v", err)
	}
	if _, err := os.Stat(job.Mp3Path); !os.IsNotExist(err) {
		t.Error("Expected no mp3 file to remain")
	}
}

func TestWiden8To16(t *testing.T) {
	d := audio.NewWavData(8000, 2, 8, audio.FormatPCM, 1000)
	w := Widen8To16(d)

	if w.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits, got %d", w.BitsPerSample)
	}
	if w.ByteRate != 32000 {
		t.Errorf("Expected byte rate 32000, got %d", w.ByteRate)
	}
	if w.BlockAlign != 4 {
		t.Errorf("Expected block align 4, got %d", w.BlockAlign)
	}
	if w.DataSize != 2000 {
		t.Errorf("Expected data size 2000, got %d", w.DataSize)
	}
	if w.FileSize != d.FileSize*2-audio.HeaderSize {
		t.Errorf("Expected file size %d, got %d", d.FileSize*2-audio.HeaderSize, w.FileSize)
	}
	if w.DataOffset != d.DataOffset {
		t.Errorf("Expected data offset %d, got %d", d.DataOffset, w.DataOffset)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("Widened view violates header invariants: %v", err)
	}
	if w.Duration() != d.Duration() {
		t.Errorf("Expected duration to be preserved, got %v vs %v", w.Duration(), d.Duration())
	}
}

func TestWiden8To16ExtraChunks(t *testing.T) {
	// a 36-byte LIST chunk before data and an 8-byte chunk after it
	d := audio.NewWavData(8000, 1, 8, audio.FormatPCM, 1000)
	d.DataOffset = audio.HeaderSize + 36
	d.FileSize = d.DataOffset + d.DataSize + 8

	w := Widen8To16(d)
	if want := d.DataOffset + 2000 + 8; w.FileSize != want {
		t.Errorf("Expected file size %d, got %d", want, w.FileSize)
	}
	if w.DataOffset != d.DataOffset || w.DataSize != 2000 {
		t.Errorf("Unexpected widened layout offset=%d size=%d", w.DataOffset, w.DataSize)
	}
}
