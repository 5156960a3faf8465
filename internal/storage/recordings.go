package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jnkforks/CallRecorder/internal/audio"
	"github.com/jnkforks/CallRecorder/internal/callstate"
	"github.com/jnkforks/CallRecorder/internal/metrics"
	"github.com/jnkforks/CallRecorder/internal/mp3"
	"github.com/jnkforks/CallRecorder/internal/notify"
)

// ContactLookup resolves a phone number to a display name.
type ContactLookup interface {
	LookupName(ctx context.Context, number string) (string, bool, error)
}

// DurationMeter measures recording files.
type DurationMeter interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Mp3Converter encodes a WAV file to MP3.
type Mp3Converter interface {
	Convert(ctx context.Context, job mp3.Job) error
}

// Deps are the collaborators of Recordings. Contacts and Converter may be nil.
type Deps struct {
	Repo      Repository
	Meter     DurationMeter
	Contacts  ContactLookup
	Converter Mp3Converter
	Broker    notify.Broker
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Recordings manages the recording index and its files.
type Recordings struct {
	repo      Repository
	meter     DurationMeter
	contacts  ContactLookup
	converter Mp3Converter
	broker    notify.Broker
	metrics   *metrics.Metrics
	logger    *slog.Logger

	locks *keyedMutex
	now   func() time.Time
}

// NewRecordings creates the recording store.
func NewRecordings(deps Deps) *Recordings {
	return &Recordings{
		repo:      deps.Repo,
		meter:     deps.Meter,
		contacts:  deps.Contacts,
		converter: deps.Converter,
		broker:    deps.Broker,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "recordings"),
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// GenerateFilePath returns saveDir/fileName with ext appended.
func GenerateFilePath(saveDir, fileName, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(saveDir, fileName+ext)
}

// ExportPath is where the MP3 export of the recording at path is written.
func ExportPath(path string) string {
	return ReplaceExtension(path, "mp3")
}

// ReplaceExtension swaps the extension of path for ext, given without the dot.
func ReplaceExtension(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}

func formatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func (r *Recordings) observe(op string, start time.Time, err error) {
	r.metrics.RecordOperation(op, err, time.Since(start).Seconds())
}

func (r *Recordings) publish(ctx context.Context, kind notify.EventKind, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	ev := notify.Event{Kind: kind, IDs: ids, At: r.now()}
	if err := r.broker.Publish(ctx, ev); err != nil {
		r.logger.Warn("Failed to publish change", "kind", string(kind), "error", err)
	}
}

func (r *Recordings) lookupName(ctx context.Context, number string) (string, bool) {
	if r.contacts == nil || number == "" {
		return "", false
	}
	name, ok, err := r.contacts.LookupName(ctx, number)
	if err != nil {
		r.logger.Warn("Contact lookup failed", "number", number, "error", err)
		r.metrics.RecordContactLookup("error")
		return "", false
	}
	if !ok {
		r.metrics.RecordContactLookup("miss")
		return "", false
	}
	r.metrics.RecordContactLookup("hit")
	return name, true
}

// SaveRecording measures a finished capture and inserts its row.
func (r *Recordings) SaveRecording(ctx context.Context, job callstate.RecordingJob) (rec Recording, err error) {
	start := time.Now()
	defer func() { r.observe("save", start, err) }()

	number := job.Event.PhoneNumber
	name, ok := r.lookupName(ctx, number)
	if !ok {
		name = UnknownName(number)
	}

	duration, err := r.meter.Duration(ctx, job.SavePath)
	if err != nil {
		return Recording{}, fmt.Errorf("failed to measure recording %s: %w", job.SavePath, err)
	}

	abs, err := filepath.Abs(job.SavePath)
	if err != nil {
		abs = job.SavePath
	}

	rec, err = r.repo.Insert(ctx, Recording{
		Name:         name,
		Number:       number,
		StartInstant: job.StartedAt,
		Duration:     duration,
		Direction:    job.Event.Direction,
		SavePath:     abs,
		SaveFormat:   formatOf(abs),
	})
	if err != nil {
		return Recording{}, fmt.Errorf("failed to save recording: %w", err)
	}

	r.metrics.RecordRecordingSaved(duration.Seconds())
	r.logger.Info("Recording saved",
		"id", rec.ID,
		"job_id", job.ID,
		"name", rec.Name,
		"duration", rec.Duration,
		"path", rec.SavePath)

	r.publish(ctx, notify.Saved, rec.ID)
	return rec, nil
}

// Get returns one recording.
func (r *Recordings) Get(ctx context.Context, id int64) (Recording, error) {
	return r.repo.Get(ctx, id)
}

// List returns every recording, newest first.
func (r *Recordings) List(ctx context.Context) ([]Recording, error) {
	return r.repo.List(ctx)
}

// GetWavData parses the header of a WAV recording.
func (r *Recordings) GetWavData(ctx context.Context, id int64) (audio.WavData, error) {
	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		return audio.WavData{}, err
	}
	return audio.ReadFileWavData(rec.SavePath)
}

// removeFile deletes path; a file that is already gone counts as deleted.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// deleteLocked removes the files and then the row. When a file cannot be
// removed the row is kept so the file stays reachable.
func (r *Recordings) deleteLocked(ctx context.Context, rec Recording) error {
	if err := removeFile(rec.SavePath); err != nil {
		return fmt.Errorf("recording %d: failed to remove file: %w", rec.ID, err)
	}
	if export := ExportPath(rec.SavePath); export != rec.SavePath {
		if err := removeFile(export); err != nil {
			return fmt.Errorf("recording %d: failed to remove mp3 export: %w", rec.ID, err)
		}
	}
	if err := r.repo.Delete(ctx, []int64{rec.ID}); err != nil {
		return fmt.Errorf("recording %d: failed to remove row: %w", rec.ID, err)
	}
	return nil
}

// DeleteRecording removes the listed recordings, file first, then row. Each id
// is handled on its own: unknown ids are skipped and one failure does not stop
// the rest. Deleting an already deleted id succeeds.
func (r *Recordings) DeleteRecording(ctx context.Context, ids []int64) (err error) {
	start := time.Now()
	defer func() { r.observe("delete", start, err) }()

	var (
		errs    []error
		deleted []int64
	)
	for _, id := range ids {
		if err := r.deleteOne(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, id)
	}

	r.publish(ctx, notify.Deleted, deleted...)
	return errors.Join(errs...)
}

func (r *Recordings) deleteOne(ctx context.Context, id int64) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording %d: %w", id, err)
	}
	return r.deleteLocked(ctx, rec)
}

// TrimSilenceEnds removes leading and trailing silence from a WAV recording.
// The trimmed copy replaces the original only after it was written completely.
func (r *Recordings) TrimSilenceEnds(ctx context.Context, id int64) (rec Recording, err error) {
	start := time.Now()
	defer func() { r.observe("trim", start, err) }()

	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err = r.repo.Get(ctx, id)
	if err != nil {
		return Recording{}, err
	}
	if rec.SaveFormat != "wav" {
		return Recording{}, fmt.Errorf("recording %d: cannot trim %s files", id, rec.SaveFormat)
	}

	trimmedPath := ReplaceExtension(rec.SavePath, "trimmed.wav")
	result, err := audio.TrimSilenceEnds(rec.SavePath, trimmedPath)
	if err != nil {
		return Recording{}, fmt.Errorf("recording %d: %w", id, err)
	}

	if err := os.Rename(trimmedPath, rec.SavePath); err != nil {
		removeFile(trimmedPath)
		return Recording{}, fmt.Errorf("recording %d: failed to replace original: %w", id, err)
	}

	rec.Duration = result.Output.Duration()
	if err := r.repo.UpdateDuration(ctx, id, rec.Duration); err != nil {
		return Recording{}, fmt.Errorf("recording %d: failed to update duration: %w", id, err)
	}

	r.logger.Info("Recording trimmed",
		"id", id,
		"leading_frames", result.LeadingFrames,
		"trailing_frames", result.TrailingFrames,
		"scanned_frames", result.Scanned.TotalFrames,
		"scanned_silent_pct", result.Scanned.SilentPercentage,
		"duration", rec.Duration)

	r.publish(ctx, notify.Updated, id)
	return rec, nil
}

// ConvertToMp3 encodes a WAV recording to an MP3 file next to it and returns
// the MP3 path. The WAV stays the indexed file; the export is removed together
// with the recording.
func (r *Recordings) ConvertToMp3(ctx context.Context, id int64) (mp3Path string, err error) {
	start := time.Now()
	defer func() { r.observe("convert_mp3", start, err) }()

	if r.converter == nil {
		return "", fmt.Errorf("%w: no mp3 encoder configured", mp3.ErrEncoderFailure)
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.SaveFormat != "wav" {
		return "", fmt.Errorf("recording %d: cannot convert %s files", id, rec.SaveFormat)
	}

	job, err := mp3.NewJob(rec.SavePath, ExportPath(rec.SavePath))
	if err != nil {
		return "", fmt.Errorf("recording %d: %w", id, err)
	}

	if err := r.converter.Convert(ctx, job); err != nil {
		return "", fmt.Errorf("recording %d: %w", id, err)
	}

	attrs := []any{"id", id, "path", job.Mp3Path}
	if d, err := r.meter.Duration(ctx, job.Mp3Path); err == nil {
		attrs = append(attrs, "duration", d)
	}
	r.logger.Info("Recording exported to mp3", attrs...)

	return job.Mp3Path, nil
}

// ToggleStar flips the starred flag of each listed recording.
func (r *Recordings) ToggleStar(ctx context.Context, ids []int64) error {
	if err := r.repo.ToggleStar(ctx, ids); err != nil {
		return fmt.Errorf("failed to toggle star: %w", err)
	}
	r.publish(ctx, notify.Updated, ids...)
	return nil
}

// ToggleSkipAutoDelete flips the retention exemption of each listed recording.
func (r *Recordings) ToggleSkipAutoDelete(ctx context.Context, ids []int64) error {
	if err := r.repo.ToggleSkipAutoDelete(ctx, ids); err != nil {
		return fmt.Errorf("failed to toggle skip auto delete: %w", err)
	}
	r.publish(ctx, notify.Updated, ids...)
	return nil
}

// UpdateContactNames looks every distinct number up again and renames its
// recordings. Numbers without a contact keep their current name.
func (r *Recordings) UpdateContactNames(ctx context.Context) (updated int64, err error) {
	start := time.Now()
	defer func() { r.observe("update_contact_names", start, err) }()

	all, err := r.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	names := make(map[string]string)
	idsByNumber := make(map[string][]int64)
	for _, rec := range all {
		idsByNumber[rec.Number] = append(idsByNumber[rec.Number], rec.ID)
		if _, seen := names[rec.Number]; seen {
			continue
		}
		name, ok := r.lookupName(ctx, rec.Number)
		if !ok {
			name = rec.Name
		}
		names[rec.Number] = name
	}

	updated, err = r.repo.UpdateContactNames(ctx, names)
	if err != nil {
		return 0, fmt.Errorf("failed to update contact names: %w", err)
	}

	var ids []int64
	for _, v := range idsByNumber {
		ids = append(ids, v...)
	}
	r.publish(ctx, notify.Updated, ids...)
	return updated, nil
}

// DeleteOverDaysOldIfNotSkippedAutoDelete removes every recording that started
// more than retention ago and is not marked to skip auto delete. A failure on
// one recording does not stop the sweep; all failures are returned joined.
func (r *Recordings) DeleteOverDaysOldIfNotSkippedAutoDelete(ctx context.Context, retention time.Duration) (deleted int, err error) {
	start := time.Now()
	defer func() { r.observe("sweep", start, err) }()

	cutoff := r.now().Add(-retention)
	expired, err := r.repo.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired recordings: %w", err)
	}

	var (
		errs []error
		ids  []int64
	)
	for _, candidate := range expired {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		ok, err := r.sweepOne(ctx, candidate.ID, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			ids = append(ids, candidate.ID)
		}
	}

	r.metrics.RecordSweepDeleted(len(ids))
	r.publish(ctx, notify.Deleted, ids...)

	if len(ids) > 0 || len(errs) > 0 {
		r.logger.Info("Retention sweep finished",
			"cutoff", cutoff,
			"deleted", len(ids),
			"failed", len(errs))
	}
	return len(ids), errors.Join(errs...)
}

// sweepOne re-reads the row under its lock so a concurrent toggle is honored.
func (r *Recordings) sweepOne(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, err := r.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recording %d: %w", id, err)
	}
	if rec.SkipAutoDelete || !rec.StartInstant.Before(cutoff) {
		return false, nil
	}
	if err := r.deleteLocked(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}
