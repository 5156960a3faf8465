package retention

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = time.Hour

// Target deletes expired recordings.
type Target interface {
	DeleteOverDaysOldIfNotSkippedAutoDelete(ctx context.Context, retention time.Duration) (int, error)
}

// Sweeper runs Target on a ticker.
type Sweeper struct {
	target   Target
	interval time.Duration
	logger   *slog.Logger
}

// New creates a sweeper; interval <= 0 selects DefaultInterval.
func New(target Target, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger.With("component", "retention"),
	}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Retention sweeper started",
		slog.Duration("retention", retention),
		slog.Duration("check_interval", s.interval),
	)

	s.SweepOnce(ctx, retention)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx, retention)
		}
	}
}

// SweepOnce runs a single sweep. Failures are logged; the next tick retries.
func (s *Sweeper) SweepOnce(ctx context.Context, retention time.Duration) int {
	deleted, err := s.target.DeleteOverDaysOldIfNotSkippedAutoDelete(ctx, retention)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("Retention sweep failed",
			slog.Int("deleted", deleted),
			slog.String("error", err.Error()),
		)
	}
	return deleted
}
