package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory repository for tests. Rows do not survive the
// process.
type MemoryRepo struct {
	mu     sync.Mutex
	rows   map[int64]Recording
	nextID int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[int64]Recording), nextID: 1}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec Recording) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.ID = r.nextID
	r.nextID++
	r.rows[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id int64) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[id]
	if !ok {
		return Recording{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Recording, 0, len(r.rows))
	for _, rec := range r.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartInstant.Equal(out[j].StartInstant) {
			return out[i].StartInstant.After(out[j].StartInstant)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) update(id int64, fn func(*Recording)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	fn(&rec)
	r.rows[id] = rec
	return nil
}

func (r *MemoryRepo) UpdateDuration(ctx context.Context, id int64, d time.Duration) error {
	return r.update(id, func(rec *Recording) { rec.Duration = d })
}

func (r *MemoryRepo) UpdateContactNames(ctx context.Context, names map[string]string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, rec := range r.rows {
		name, ok := names[rec.Number]
		if !ok {
			continue
		}
		rec.Name = name
		r.rows[id] = rec
		n++
	}
	return n, nil
}

func (r *MemoryRepo) ToggleStar(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		err := r.update(id, func(rec *Recording) { rec.IsStarred = !rec.IsStarred })
		if err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

func (r *MemoryRepo) ToggleSkipAutoDelete(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		err := r.update(id, func(rec *Recording) { rec.SkipAutoDelete = !rec.SkipAutoDelete })
		if err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		delete(r.rows, id)
	}
	return nil
}

func (r *MemoryRepo) ListExpired(ctx context.Context, before time.Time) ([]Recording, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Recording, 0)
	for _, rec := range all {
		if rec.SkipAutoDelete || !rec.StartInstant.Before(before) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *MemoryRepo) Close() error { return nil }
