package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jnkforks/CallRecorder/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDevice struct {
	data   []byte
	pos    int
	closed chan struct{}
	once   sync.Once
}

func newFakeDevice(data []byte) *fakeDevice {
	return &fakeDevice{data: data, closed: make(chan struct{})}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	if d.pos < len(d.data) {
		n := copy(p, d.data[d.pos:])
		d.pos += n
		return n, nil
	}
	<-d.closed
	return 0, io.EOF
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

type fakeOpener struct {
	device *fakeDevice
	err    error
	params Params
}

func (o *fakeOpener) Open(ctx context.Context, p Params) (Device, error) {
	o.params = p
	if o.err != nil {
		return nil, o.err
	}
	return o.device, nil
}

var pcm16Mono = Params{SampleRate: 8000, Channels: 1, Encoding: audio.EncodingPCM16}

func waitForBytes(t *testing.T, r Recorder, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status().BytesWritten >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d bytes, got %d", n, r.Status().BytesWritten)
}

func TestMinBufferSize(t *testing.T) {
	tests := []struct {
		name     string
		params   Params
		expected int
	}{
		{"8k mono 16-bit", pcm16Mono, 160 * 2},
		{"44.1k stereo 16-bit", Params{44100, 2, audio.EncodingPCM16}, 882 * 4},
		{"11025 mono 8-bit rounds up", Params{11025, 1, audio.EncodingPCM8}, 221},
		{"48k stereo float", Params{48000, 2, audio.EncodingPCMFloat}, 960 * 8},
		{"tiny rate is at least one frame", Params{1, 2, audio.EncodingPCM16}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinBufferSize(tt.params)
			if got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
			if got%tt.params.FrameSize() != 0 {
				t.Errorf("Expected a whole number of frames, got %d bytes", got)
			}
		})
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name      string
		params    Params
		expectErr bool
	}{
		{"valid", pcm16Mono, false},
		{"zero rate", Params{0, 1, audio.EncodingPCM16}, true},
		{"three channels", Params{8000, 3, audio.EncodingPCM16}, true},
		{"bad encoding", Params{8000, 1, "pcm_24bit"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestDeviceLock(t *testing.T) {
	lock := NewDeviceLock()

	claim, err := lock.TryClaim()
	if err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	if !lock.Claimed() {
		t.Error("Expected lock to be claimed")
	}

	if _, err := lock.TryClaim(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}

	claim.Release()
	claim.Release()
	if lock.Claimed() {
		t.Error("Expected lock to be released")
	}

	again, err := lock.TryClaim()
	if err != nil {
		t.Fatalf("TryClaim after release failed: %v", err)
	}
	again.Release()
}

func TestDeviceBufferCapturerRecordsWav(t *testing.T) {
	dir := t.TempDir()
	samples := make([]int16, 4000)
	for i := range samples {
		samples[i] = int16(i * 7)
	}
	data := audio.Int16ToBytes(samples)

	opener := &fakeOpener{device: newFakeDevice(data)}
	c := NewDeviceBufferCapturer(opener, NewDeviceLock(), pcm16Mono, testLogger())

	if c.SaveFileExt() != ".wav" {
		t.Errorf("Expected .wav, got %s", c.SaveFileExt())
	}

	dest := filepath.Join(dir, "calls", "2024-05-01_10-00-00.wav")
	if err := c.StartRecording(context.Background(), dest); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	st := c.Status()
	if !st.Recording || st.Path != dest {
		t.Errorf("Unexpected status %+v", st)
	}

	waitForBytes(t, c, int64(len(data)))

	path, err := c.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if path != dest {
		t.Errorf("Expected path %s, got %s", dest, path)
	}

	info, err := audio.ReadFileWavData(path)
	if err != nil {
		t.Fatalf("ReadFileWavData failed: %v", err)
	}
	if info.DataSize != int64(len(data)) {
		t.Errorf("Expected %d data bytes, got %d", len(data), info.DataSize)
	}
	if info.Duration() != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", info.Duration())
	}

	raw, _ := os.ReadFile(path)
	got := audio.BytesToInt16(raw[info.DataOffset:])
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "calls", "2024-05-01_10-00-00.pcm")); !os.IsNotExist(err) {
		t.Error("Expected pcm file to be removed")
	}
	if c.Status().Recording {
		t.Error("Expected capturer to be idle after stop")
	}
}

func TestDeviceBufferCapturerStopWhenIdle(t *testing.T) {
	c := NewDeviceBufferCapturer(&fakeOpener{}, NewDeviceLock(), pcm16Mono, testLogger())

	for i := 0; i < 2; i++ {
		path, err := c.StopRecording()
		if err != nil || path != "" {
			t.Errorf("Expected no-op stop, got %q, %v", path, err)
		}
	}

	// release on a never-started recorder
	c.ReleaseRecorder()
}

func TestDeviceBufferCapturerStartWhileRecordingIgnored(t *testing.T) {
	dir := t.TempDir()
	opener := &fakeOpener{device: newFakeDevice(make([]byte, 320))}
	c := NewDeviceBufferCapturer(opener, NewDeviceLock(), pcm16Mono, testLogger())
	defer c.ReleaseRecorder()

	first := filepath.Join(dir, "first.wav")
	if err := c.StartRecording(context.Background(), first); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := c.StartRecording(context.Background(), filepath.Join(dir, "second.wav")); err != nil {
		t.Errorf("Expected second start to be ignored, got %v", err)
	}
	if c.Status().Path != first {
		t.Errorf("Expected active path %s, got %s", first, c.Status().Path)
	}
}

func TestDeviceBufferCapturerDeviceClaimed(t *testing.T) {
	dir := t.TempDir()
	lock := NewDeviceLock()

	a := NewDeviceBufferCapturer(&fakeOpener{device: newFakeDevice(nil)}, lock, pcm16Mono, testLogger())
	b := NewDeviceBufferCapturer(&fakeOpener{device: newFakeDevice(nil)}, lock, pcm16Mono, testLogger())

	if err := a.StartRecording(context.Background(), filepath.Join(dir, "a.wav")); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	err := b.StartRecording(context.Background(), filepath.Join(dir, "b.wav"))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "b.pcm")); !os.IsNotExist(statErr) {
		t.Error("Expected no file for the rejected capture")
	}

	a.ReleaseRecorder()
	if lock.Claimed() {
		t.Error("Expected release to free the device")
	}

	if err := b.StartRecording(context.Background(), filepath.Join(dir, "b.wav")); err != nil {
		t.Errorf("Expected start after release to succeed, got %v", err)
	}
	b.ReleaseRecorder()
}

func TestDeviceBufferCapturerOpenFailure(t *testing.T) {
	dir := t.TempDir()
	lock := NewDeviceLock()
	c := NewDeviceBufferCapturer(&fakeOpener{err: errors.New("format rejected")}, lock, pcm16Mono, testLogger())

	err := c.StartRecording(context.Background(), filepath.Join(dir, "x.wav"))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if lock.Claimed() {
		t.Error("Expected claim to be released after open failure")
	}
	if c.Status().Recording {
		t.Error("Expected capturer to stay idle")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected no files, found %d", len(entries))
	}
}

type fakeEncoder struct {
	path    string
	stopped int
	err     error
}

func (e *fakeEncoder) Stop() error {
	e.stopped++
	return e.err
}

type fakeLauncher struct {
	encoder *fakeEncoder
	err     error
}

func (l *fakeLauncher) Launch(ctx context.Context, p Params, dest string) (Encoder, error) {
	if l.err != nil {
		return nil, l.err
	}
	if err := os.WriteFile(dest, []byte("ftypM4A "), 0o644); err != nil {
		return nil, err
	}
	l.encoder.path = dest
	return l.encoder, nil
}

func TestContainerRecorder(t *testing.T) {
	dir := t.TempDir()
	lock := NewDeviceLock()
	enc := &fakeEncoder{}
	r := NewContainerRecorder(&fakeLauncher{encoder: enc}, lock, pcm16Mono, testLogger())

	if r.SaveFileExt() != ".m4a" {
		t.Errorf("Expected .m4a, got %s", r.SaveFileExt())
	}

	if err := r.StartRecording(context.Background(), filepath.Join(dir, "call.m4a")); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if !lock.Claimed() {
		t.Error("Expected device to be claimed")
	}
	if st := r.Status(); !st.Recording || st.BytesWritten == 0 {
		t.Errorf("Unexpected status %+v", st)
	}

	if err := r.StartRecording(context.Background(), filepath.Join(dir, "other.m4a")); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable on second start, got %v", err)
	}

	path, err := r.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if path != filepath.Join(dir, "call.m4a") {
		t.Errorf("Unexpected path %s", path)
	}
	if enc.stopped != 1 {
		t.Errorf("Expected encoder stopped once, got %d", enc.stopped)
	}
	if lock.Claimed() {
		t.Error("Expected device to be released")
	}

	if path, err := r.StopRecording(); path != "" || err != nil {
		t.Errorf("Expected no-op stop, got %q, %v", path, err)
	}
	r.ReleaseRecorder()
}

func TestContainerRecorderLaunchFailure(t *testing.T) {
	lock := NewDeviceLock()
	r := NewContainerRecorder(&fakeLauncher{err: errors.New("no encoder")}, lock, pcm16Mono, testLogger())

	err := r.StartRecording(context.Background(), filepath.Join(t.TempDir(), "call.m4a"))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if lock.Claimed() {
		t.Error("Expected claim to be released")
	}
}

func TestParseVariant(t *testing.T) {
	for _, s := range []string{"device_buffer", "container"} {
		if _, err := ParseVariant(s); err != nil {
			t.Errorf("ParseVariant(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseVariant("media"); err == nil {
		t.Error("Expected error for unknown variant")
	}
}

// flushingDevice returns head while running and, once interrupted, a tail
// after a short delay, like an encoder flushing on SIGINT.
type flushingDevice struct {
	head, tail  []byte
	headPos     int
	tailPos     int
	flushed     bool
	interrupted chan struct{}
	closed      chan struct{}
	intOnce     sync.Once
	closeOnce   sync.Once
}

func newFlushingDevice(head, tail []byte) *flushingDevice {
	return &flushingDevice{
		head:        head,
		tail:        tail,
		interrupted: make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

func (d *flushingDevice) Read(p []byte) (int, error) {
	if d.headPos < len(d.head) {
		n := copy(p, d.head[d.headPos:])
		d.headPos += n
		return n, nil
	}
	select {
	case <-d.interrupted:
	case <-d.closed:
		return 0, io.EOF
	}
	if !d.flushed {
		d.flushed = true
		time.Sleep(50 * time.Millisecond)
	}
	if d.tailPos < len(d.tail) {
		n := copy(p, d.tail[d.tailPos:])
		d.tailPos += n
		return n, nil
	}
	return 0, io.EOF
}

func (d *flushingDevice) Interrupt() error {
	d.intOnce.Do(func() { close(d.interrupted) })
	return nil
}

func (d *flushingDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

type staticOpener struct {
	device Device
}

func (o staticOpener) Open(ctx context.Context, p Params) (Device, error) {
	return o.device, nil
}

func TestDeviceBufferCapturerKeepsFlushedTail(t *testing.T) {
	head := make([]byte, 3200)
	tail := make([]byte, 32000)
	for i := range tail {
		tail[i] = 0x7f
	}

	c := NewDeviceBufferCapturer(staticOpener{newFlushingDevice(head, tail)}, NewDeviceLock(), pcm16Mono, testLogger())
	dest := filepath.Join(t.TempDir(), "call.wav")
	if err := c.StartRecording(context.Background(), dest); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	waitForBytes(t, c, int64(len(head)))

	path, err := c.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	info, err := audio.ReadFileWavData(path)
	if err != nil {
		t.Fatalf("ReadFileWavData failed: %v", err)
	}
	if want := int64(len(head) + len(tail)); info.DataSize != want {
		t.Fatalf("Expected %d data bytes including the flushed tail, got %d", want, info.DataSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	for i, b := range raw[len(raw)-len(tail):] {
		if b != 0x7f {
			t.Fatalf("Tail byte %d = %#x, expected 0x7f", i, b)
		}
	}
}

func TestDeviceBufferCapturerFinalizeFailureKeepsPCM(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "call.wav")
	// a non-empty directory where the wav should go makes the wrap fail
	if err := os.MkdirAll(filepath.Join(dest, "child"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	data := make([]byte, 1600)
	c := NewDeviceBufferCapturer(&fakeOpener{device: newFakeDevice(data)}, NewDeviceLock(), pcm16Mono, testLogger())
	if err := c.StartRecording(context.Background(), dest); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	waitForBytes(t, c, int64(len(data)))

	pcmPath := filepath.Join(dir, "call.pcm")
	_, err := c.StopRecording()
	if err == nil {
		t.Fatal("Expected finalize error")
	}
	if !strings.Contains(err.Error(), pcmPath) {
		t.Errorf("Expected error to name the kept pcm file, got %v", err)
	}
	info, err := os.Stat(pcmPath)
	if err != nil {
		t.Fatalf("Expected pcm file to be kept: %v", err)
	}
	if info.Size() != int64(len(data)) {
		t.Errorf("Expected %d pcm bytes, got %d", len(data), info.Size())
	}
}
