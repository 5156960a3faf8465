package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

const refreshConcurrency = 4

type cacheEntry struct {
	name string
	ok   bool
}

// Cache remembers lookups of the wrapped fetcher, misses included. Failed
// lookups are not cached.
type Cache struct {
	next   Fetcher
	lru    *expirable.LRU[string, cacheEntry]
	logger *slog.Logger
}

// NewCache wraps next with an LRU of size entries that expire after ttl.
func NewCache(next Fetcher, size int, ttl time.Duration, logger *slog.Logger) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{
		next:   next,
		lru:    expirable.NewLRU[string, cacheEntry](size, nil, ttl),
		logger: logger.With("component", "contacts_cache"),
	}
}

func (c *Cache) LookupName(ctx context.Context, number string) (string, bool, error) {
	key := Normalize(number)
	if e, ok := c.lru.Get(key); ok {
		return e.name, e.ok, nil
	}

	name, ok, err := c.next.LookupName(ctx, number)
	if err != nil {
		return "", false, err
	}
	c.lru.Add(key, cacheEntry{name: name, ok: ok})
	return name, ok, nil
}

// Len returns the number of cached numbers.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Refresh drops every cached entry and looks numbers up again concurrently.
// All numbers are attempted; failures are returned joined.
func (c *Cache) Refresh(ctx context.Context, numbers []string) error {
	c.lru.Purge()

	seen := make(map[string]bool, len(numbers))
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(refreshConcurrency)

	for _, number := range numbers {
		key := Normalize(number)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		g.Go(func() error {
			if _, _, err := c.LookupName(ctx, number); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", number, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	c.logger.Info("Contact cache refreshed",
		slog.Int("numbers", len(seen)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}
