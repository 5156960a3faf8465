package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(size int) *Pool {
	return NewPool(size, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := newTestPool(2)
	defer p.Close()

	var running, peak int32
	results := make([]<-chan error, 0, 6)
	for i := 0; i < 6; i++ {
		results = append(results, p.Go(context.Background(), "task", func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}

	for _, ch := range results {
		if err := <-ch; err != nil {
			t.Errorf("Unexpected task error: %v", err)
		}
	}
	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent tasks, got %d", peak)
	}
}

func TestDoReturnsValueAndError(t *testing.T) {
	p := newTestPool(1)
	defer p.Close()

	v, err := Do(context.Background(), p, "answer", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("Expected 42, got %d (%v)", v, err)
	}

	boom := errors.New("boom")
	_, err = Do(context.Background(), p, "fail", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	p := newTestPool(1)
	defer p.Close()

	err := <-p.Go(context.Background(), "panic", func(ctx context.Context) error {
		panic("bad")
	})
	if err == nil {
		t.Fatal("Expected an error from a panicking task")
	}

	// the slot is released
	if err := <-p.Go(context.Background(), "after", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Expected pool to keep working, got %v", err)
	}
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	p := newTestPool(1)
	defer p.Close()

	release := make(chan struct{})
	busy := p.Go(context.Background(), "busy", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := <-p.Go(ctx, "waiting", func(ctx context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}

	close(release)
	<-busy
}

func TestPoolClose(t *testing.T) {
	p := newTestPool(1)

	var done int32
	ch := p.Go(context.Background(), "slow", func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
		return nil
	})

	p.Close()
	if atomic.LoadInt32(&done) != 1 {
		t.Error("Expected Close to wait for running tasks")
	}
	<-ch

	if err := <-p.Go(context.Background(), "late", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
