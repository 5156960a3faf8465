package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jnkforks/CallRecorder/internal/notify"
)

// watch emits load's value now and again after every relevant change event,
// until ctx is done. The channel closes when ctx is done or load reports
// ErrNotFound.
func watch[T any](ctx context.Context, r *Recordings, load func(context.Context) (T, error), relevant func(notify.Event) bool) (<-chan T, error) {
	ctx, cancel := context.WithCancel(ctx)

	events, err := r.broker.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	first, err := load(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan T, 1)
	out <- first

	go func() {
		defer cancel()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !relevant(ev) {
					continue
				}

				v, err := load(ctx)
				if errors.Is(err, ErrNotFound) {
					return
				}
				if err != nil {
					if ctx.Err() == nil {
						r.logger.Warn("Failed to reload watched value", "error", err)
					}
					continue
				}

				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func touches(id int64) func(notify.Event) bool {
	return func(ev notify.Event) bool { return ev.Touches(id) }
}

func anyEvent(notify.Event) bool { return true }

// GetRecording watches one recording. The channel closes if it is deleted.
func (r *Recordings) GetRecording(ctx context.Context, id int64) (<-chan Recording, error) {
	return watch(ctx, r, func(ctx context.Context) (Recording, error) {
		return r.repo.Get(ctx, id)
	}, touches(id))
}

// GetRecordingList watches the full list, newest first.
func (r *Recordings) GetRecordingList(ctx context.Context) (<-chan []Recording, error) {
	return watch(ctx, r, r.repo.List, anyEvent)
}

// GetIsStarred watches the starred flag of one recording.
func (r *Recordings) GetIsStarred(ctx context.Context, id int64) (<-chan bool, error) {
	return watch(ctx, r, func(ctx context.Context) (bool, error) {
		rec, err := r.repo.Get(ctx, id)
		return rec.IsStarred, err
	}, touches(id))
}

// GetSkipAutoDelete watches the retention exemption of one recording.
func (r *Recordings) GetSkipAutoDelete(ctx context.Context, id int64) (<-chan bool, error) {
	return watch(ctx, r, func(ctx context.Context) (bool, error) {
		rec, err := r.repo.Get(ctx, id)
		return rec.SkipAutoDelete, err
	}, touches(id))
}
