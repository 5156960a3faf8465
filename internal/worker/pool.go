package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("worker pool closed")

// Pool bounds the number of concurrently running tasks.
type Pool struct {
	sem    *semaphore.Weighted
	size   int64
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   int64(size),
		logger: logger.With("component", "worker_pool"),
	}
}

// Go runs fn once a slot is free. The returned channel receives fn's result
// and is then closed. Acquiring a slot is bounded by ctx; fn receives ctx too.
func (p *Pool) Go(ctx context.Context, name string, fn func(context.Context) error) <-chan error {
	result := make(chan error, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		result <- ErrClosed
		close(result)
		return result
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		result <- fmt.Errorf("%s: waiting for worker: %w", name, err)
		close(result)
		return result
	}

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer close(result)

		err := run(ctx, fn)
		if err != nil {
			p.logger.Debug("Task failed",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
		}
		result <- err
	}()

	return result
}

func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Do runs fn on the pool and waits for its value.
func Do[T any](ctx context.Context, p *Pool, name string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := <-p.Go(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// Size returns the maximum number of concurrent tasks.
func (p *Pool) Size() int {
	return int(p.size)
}

// Close rejects new work and waits for running tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
}
