package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store holds the current settings. Updates are validated, written to disk and
// then announced to subscribers.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings
	subs    map[int]chan Settings
	nextSub int
}

// Open loads settings from path. A missing file yields the defaults; an empty
// path keeps settings in memory only.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:    path,
		logger:  logger.With("component", "prefs"),
		current: Defaults(),
		subs:    make(map[int]chan Settings),
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("No settings file, using defaults", slog.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	loaded := Defaults()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	s.current = loaded
	return s, nil
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies fn to a copy of the settings. The change is rejected when
// the result does not validate or cannot be saved.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.current, err
	}
	if next == s.current {
		return next, nil
	}
	if err := s.save(next); err != nil {
		return s.current, err
	}

	s.current = next
	for _, ch := range s.subs {
		// replace a pending value so subscribers only see the latest
		select {
		case <-ch:
		default:
		}
		ch <- next
	}

	s.logger.Info("Settings updated",
		slog.Bool("recording_enabled", next.RecordingEnabled),
		slog.String("recording_api", string(next.RecordingAPI)),
		slog.Bool("auto_delete_enabled", next.AutoDeleteEnabled),
		slog.Int("auto_delete_after_days", next.AutoDeleteAfterDays),
	)
	return next, nil
}

func (s *Store) save(v Settings) error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Subscribe returns a channel holding the current settings and then each
// change until ctx is done. Slow readers only see the latest value.
func (s *Store) Subscribe(ctx context.Context) <-chan Settings {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Settings, 1)
	ch <- s.current
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}
