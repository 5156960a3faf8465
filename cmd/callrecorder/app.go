package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jnkforks/CallRecorder/internal/config"
	"github.com/jnkforks/CallRecorder/internal/contacts"
	"github.com/jnkforks/CallRecorder/internal/metrics"
	"github.com/jnkforks/CallRecorder/internal/mp3"
	"github.com/jnkforks/CallRecorder/internal/notify"
	"github.com/jnkforks/CallRecorder/internal/storage"
)

// app is the recording store and everything it depends on. Every command
// builds one; serve adds capture and the network listeners on top.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	broker     notify.Broker
	contacts   *contacts.Cache
	recordings *storage.Recordings

	closers []io.Closer
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.NewMetrics(registry),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	repo, err := openRepository(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := repo.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	if cfg.Notify.Redis.Addr != "" {
		rb, err := notify.OpenRedisBroker(ctx, notify.RedisConfig{
			Addr:     cfg.Notify.Redis.Addr,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
			Channel:  cfg.Notify.Redis.Channel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open change feed: %w", err)
		}
		a.broker = rb
		a.closers = append(a.closers, rb)
	} else {
		lb := notify.NewLocalBroker()
		a.broker = lb
		a.closers = append(a.closers, lb)
	}

	fetcher, err := openContacts(cfg.Contacts, logger, &a.closers)
	if err != nil {
		return nil, err
	}
	if fetcher != nil {
		a.contacts = contacts.NewCache(fetcher, cfg.Contacts.CacheSize, cfg.Contacts.GetCacheTTL(), logger)
	}

	convention := mp3.Interleaved
	if cfg.MP3.Convention == "planar" {
		convention = mp3.Planar
	}
	encoder := mp3.NewEncoder(mp3.NewFFmpegFactory(cfg.MP3.FFmpeg), mp3.Options{
		Convention:  convention,
		BitrateKbps: cfg.MP3.BitrateKbps,
		ChunkFrames: cfg.MP3.ChunkFrames,
	}, logger)

	deps := storage.Deps{
		Repo:      repo,
		Meter:     storage.NewFileMeter(cfg.Storage.FFprobe),
		Converter: encoder,
		Broker:    a.broker,
		Metrics:   a.metrics,
		Logger:    logger,
	}
	// A nil *Cache must not become a non-nil interface.
	if a.contacts != nil {
		deps.Contacts = a.contacts
	}
	a.recordings = storage.NewRecordings(deps)

	return a, nil
}

func openRepository(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Repository, error) {
	if cfg.Postgres.DSN == "" {
		repo, err := storage.OpenSQLite(ctx, cfg.GetIndexPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open recording index: %w", err)
		}
		logger.Debug("Using embedded recording index", slog.String("path", repo.Path()))
		return repo, nil
	}

	repo, err := storage.OpenPostgres(ctx, cfg.Postgres.DSN, storage.PostgresPoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.GetConnMaxLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open recording index: %w", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to prepare recording index: %w", err)
	}
	return repo, nil
}

// openContacts chains the configured sources: the local directory first, then
// the remote one. It returns nil when neither is configured.
func openContacts(cfg config.ContactsConfig, logger *slog.Logger, closers *[]io.Closer) (contacts.Fetcher, error) {
	var chain contacts.Chain

	if cfg.File != "" {
		dir, err := contacts.LoadDirectory(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load contacts: %w", err)
		}
		logger.Info("Contact directory loaded",
			slog.String("path", cfg.File),
			slog.Int("numbers", dir.Len()),
		)
		chain = append(chain, dir)
	}

	if cfg.HTTP.Endpoint != "" {
		client, err := contacts.NewClient(contacts.ClientConfig{
			Endpoint:      cfg.HTTP.Endpoint,
			APIKey:        cfg.HTTP.APIKey,
			Timeout:       cfg.HTTP.GetTimeoutDuration(),
			MaxRetries:    cfg.HTTP.MaxRetries,
			MaxConcurrent: cfg.HTTP.MaxConcurrent,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create contacts client: %w", err)
		}
		*closers = append(*closers, client)
		chain = append(chain, client)
	}

	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
