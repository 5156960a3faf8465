package storage

import (
	"context"
	"time"
)

// Repository persists Recording rows.
type Repository interface {
	Insert(ctx context.Context, r Recording) (Recording, error)
	Get(ctx context.Context, id int64) (Recording, error)
	// List returns every row, newest first.
	List(ctx context.Context) ([]Recording, error)
	UpdateDuration(ctx context.Context, id int64, d time.Duration) error
	// UpdateContactNames sets the name of every row whose number is a key of names.
	UpdateContactNames(ctx context.Context, names map[string]string) (int64, error)
	ToggleStar(ctx context.Context, ids []int64) error
	ToggleSkipAutoDelete(ctx context.Context, ids []int64) error
	// Delete removes rows; unknown ids are ignored.
	Delete(ctx context.Context, ids []int64) error
	// ListExpired returns rows started before the cutoff that are not marked
	// to skip auto delete.
	ListExpired(ctx context.Context, before time.Time) ([]Recording, error)
	Close() error
}
