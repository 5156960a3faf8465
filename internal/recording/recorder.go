package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/jnkforks/CallRecorder/internal/callstate"
	"github.com/jnkforks/CallRecorder/internal/capture"
	"github.com/jnkforks/CallRecorder/internal/metrics"
	"github.com/jnkforks/CallRecorder/internal/prefs"
	"github.com/jnkforks/CallRecorder/internal/storage"
	"github.com/jnkforks/CallRecorder/internal/worker"
)

// FileNameLayout formats the capture start time into a file name.
const FileNameLayout = "2006-01-02_15-04-05"

var (
	// ErrInsufficientStorage is returned when the save directory is below the
	// configured free space.
	ErrInsufficientStorage = errors.New("insufficient free storage")

	// ErrAlreadyRecording is returned by StartRecording while a job is active.
	ErrAlreadyRecording = fmt.Errorf("%w: a recording is already in progress", capture.ErrDeviceUnavailable)
)

// Saver indexes a finished capture.
type Saver interface {
	SaveRecording(ctx context.Context, job callstate.RecordingJob) (storage.Recording, error)
}

// SettingsSource provides the current recording settings.
type SettingsSource interface {
	Get() prefs.Settings
}

// Config holds the static parameters of a CallRecorder.
type Config struct {
	SaveDir      string
	MinFreeBytes uint64
}

// CallRecorder starts a recorder when a call begins and saves the capture
// when it ends. At most one job is active.
type CallRecorder struct {
	cfg      Config
	settings SettingsSource
	factory  RecorderFactory
	saver    Saver
	pool     *worker.Pool
	metrics  *metrics.Metrics
	logger   *slog.Logger

	freeSpace func(path string) (uint64, error)
	now       func() time.Time

	mu       sync.Mutex
	job      *callstate.RecordingJob
	recorder capture.Recorder
	variant  capture.Variant
}

// Deps are the collaborators of a CallRecorder.
type Deps struct {
	Settings SettingsSource
	Factory  RecorderFactory
	Saver    Saver
	Pool     *worker.Pool
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// New creates a CallRecorder.
func New(cfg Config, deps Deps) *CallRecorder {
	return &CallRecorder{
		cfg:       cfg,
		settings:  deps.Settings,
		factory:   deps.Factory,
		saver:     deps.Saver,
		pool:      deps.Pool,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "call_recorder"),
		freeSpace: diskFree,
		now:       time.Now,
	}
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// StartRecording begins capturing the call described by ev. It returns once
// the device is open. On failure no job is kept.
func (c *CallRecorder) StartRecording(ctx context.Context, ev callstate.CallEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job != nil {
		return ErrAlreadyRecording
	}

	if err := os.MkdirAll(c.cfg.SaveDir, 0o755); err != nil {
		c.metrics.RecordCaptureFailure("save_dir")
		return fmt.Errorf("failed to create save directory: %w", err)
	}
	if err := c.checkFreeSpace(); err != nil {
		c.metrics.RecordCaptureFailure("storage")
		return err
	}

	settings := c.settings.Get()
	recorder, err := c.factory.NewRecorder(settings.RecordingAPI, settings.CaptureParams())
	if err != nil {
		c.metrics.RecordCaptureFailure("recorder")
		return err
	}

	startedAt := c.now()
	dest := c.uniquePath(startedAt, recorder.SaveFileExt())

	if err := recorder.StartRecording(ctx, dest); err != nil {
		recorder.ReleaseRecorder()
		reason := "start"
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			reason = "device_unavailable"
		}
		c.metrics.RecordCaptureFailure(reason)
		c.logger.Warn("Failed to start recording",
			slog.String("number", ev.PhoneNumber),
			slog.String("variant", string(settings.RecordingAPI)),
			slog.String("error", err.Error()),
		)
		return err
	}

	c.job = &callstate.RecordingJob{
		ID:        uuid.NewString(),
		Event:     ev,
		StartedAt: startedAt,
		SavePath:  dest,
	}
	c.recorder = recorder
	c.variant = settings.RecordingAPI
	c.metrics.RecordCaptureStarted(string(settings.RecordingAPI))

	c.logger.Info("Recording started",
		slog.String("job_id", c.job.ID),
		slog.String("number", ev.PhoneNumber),
		slog.String("direction", string(ev.Direction)),
		slog.String("variant", string(c.variant)),
		slog.String("path", dest),
	)
	return nil
}

func (c *CallRecorder) checkFreeSpace() error {
	if c.cfg.MinFreeBytes == 0 {
		return nil
	}
	free, err := c.freeSpace(c.cfg.SaveDir)
	if err != nil {
		return fmt.Errorf("failed to read free space: %w", err)
	}
	if free < c.cfg.MinFreeBytes {
		return fmt.Errorf("%w: %d bytes free, %d required", ErrInsufficientStorage, free, c.cfg.MinFreeBytes)
	}
	return nil
}

// uniquePath names the file after the start time, adding a counter when a
// call already used that second.
func (c *CallRecorder) uniquePath(startedAt time.Time, ext string) string {
	base := startedAt.Format(FileNameLayout)
	path := storage.GenerateFilePath(c.cfg.SaveDir, base, ext)
	for i := 2; exists(path) || exists(storage.ReplaceExtension(path, "pcm")); i++ {
		path = storage.GenerateFilePath(c.cfg.SaveDir, base+"_"+strconv.Itoa(i), ext)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// StopRecording stops the active capture and saves it on the worker pool,
// waiting for the save to finish. Without an active job it does nothing and
// returns a zero Recording.
func (c *CallRecorder) StopRecording(ctx context.Context, ev callstate.CallEvent) (storage.Recording, error) {
	job, err := c.stop()
	if err != nil || job == nil {
		return storage.Recording{}, err
	}

	if job.Event.PhoneNumber == "" {
		job.Event.PhoneNumber = ev.PhoneNumber
	}

	rec, err := worker.Do(ctx, c.pool, "save_recording", func(ctx context.Context) (storage.Recording, error) {
		return c.saver.SaveRecording(ctx, *job)
	})
	if err != nil {
		return storage.Recording{}, fmt.Errorf("failed to save recording %s: %w", job.SavePath, err)
	}
	return rec, nil
}

// stop ends the capture under the lock so a new call cannot start before the
// file is closed.
func (c *CallRecorder) stop() (*callstate.RecordingJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, recorder := c.job, c.recorder
	if job == nil {
		return nil, nil
	}
	c.job, c.recorder = nil, nil

	path, err := recorder.StopRecording()
	recorder.ReleaseRecorder()
	c.metrics.RecordCaptureStopped()

	if err != nil {
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}
	if path == "" {
		return nil, fmt.Errorf("recorder returned no file for job %s", job.ID)
	}

	job.SavePath = path
	c.logger.Info("Recording stopped",
		slog.String("job_id", job.ID),
		slog.String("path", path),
		slog.Duration("duration", c.now().Sub(job.StartedAt)),
	)
	return job, nil
}

// ReleaseRecorder drops the active job and frees the recorder without saving.
func (c *CallRecorder) ReleaseRecorder() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder == nil {
		return
	}
	c.logger.Warn("Releasing recorder with an unsaved job",
		slog.String("job_id", c.job.ID),
		slog.String("path", c.job.SavePath),
	)
	c.recorder.ReleaseRecorder()
	c.metrics.RecordCaptureStopped()
	c.job, c.recorder = nil, nil
}

// Active describes the running capture.
type Active struct {
	JobID     string              `json:"job_id"`
	Number    string              `json:"number"`
	Direction callstate.Direction `json:"direction"`
	StartedAt time.Time           `json:"started_at"`
	Capture   capture.Status      `json:"capture"`
}

// Active returns the running capture, if any.
func (c *CallRecorder) Active() (Active, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.job == nil {
		return Active{}, false
	}
	return Active{
		JobID:     c.job.ID,
		Number:    c.job.Event.PhoneNumber,
		Direction: c.job.Event.Direction,
		StartedAt: c.job.StartedAt,
		Capture:   c.recorder.Status(),
	}, true
}
