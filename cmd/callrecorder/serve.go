package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnkforks/CallRecorder/internal/capture"
	"github.com/jnkforks/CallRecorder/internal/prefs"
	"github.com/jnkforks/CallRecorder/internal/recording"
	"github.com/jnkforks/CallRecorder/internal/retention"
	"github.com/jnkforks/CallRecorder/internal/server"
	"github.com/jnkforks/CallRecorder/internal/service"
	"github.com/jnkforks/CallRecorder/internal/worker"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Listen for call-state signals and record calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.withApp(ctx, func(a *app) error {
				return serve(ctx, c, a)
			})
		},
	}
}

func serve(ctx context.Context, c *cli, a *app) error {
	cfg, logger := c.cfg, c.logger

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", c.configPath),
	)
	logger.Info("Configuration loaded",
		slog.Bool("udp_enabled", cfg.Server.Enabled),
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("save_dir", cfg.Storage.SaveDir),
		slog.Bool("postgres", cfg.Storage.Postgres.DSN != ""),
		slog.Bool("redis", cfg.Notify.Redis.Addr != ""),
		slog.String("log_level", cfg.Logging.Level),
	)

	settings, err := prefs.Open(cfg.Prefs.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open preferences: %w", err)
	}

	ffmpeg := capture.NewFFmpeg(capture.FFmpegConfig{
		Command:     cfg.Capture.FFmpeg,
		InputFormat: cfg.Capture.InputFormat,
		InputDevice: cfg.Capture.InputDevice,
		AACBitrate:  cfg.Capture.AACBitrate,
	})
	if err := ffmpeg.Check(); err != nil {
		// Recording fails per call until ffmpeg shows up; management still works.
		logger.Warn("Capture backend unavailable", slog.String("error", err.Error()))
	}

	pool := worker.NewPool(cfg.Worker.Size, logger)
	defer pool.Close()

	recorder := recording.New(recording.Config{
		SaveDir:      cfg.Storage.SaveDir,
		MinFreeBytes: cfg.Storage.MinFreeBytes,
	}, recording.Deps{
		Settings: settings,
		Factory: recording.Variants{
			Opener:   ffmpeg,
			Launcher: ffmpeg,
			Lock:     capture.NewDeviceLock(),
			Logger:   logger,
		},
		Saver:   a.recordings,
		Pool:    pool,
		Metrics: a.metrics,
		Logger:  logger,
	})

	host := service.NewHost(service.Deps{
		Recorder:        recorder,
		Prefs:           settings,
		Sweeper:         retention.New(a.recordings, cfg.Retention.GetIntervalDuration(), logger),
		Metrics:         a.metrics,
		Logger:          logger,
		ShutdownTimeout: cfg.Capture.GetShutdownTimeout(),
	})

	var udpServer *server.UDPServer
	if cfg.Server.Enabled {
		udpServer = server.NewUDPServer(&cfg.Server, logger, host, a.metrics)
		if err := udpServer.Start(); err != nil {
			return err
		}
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		deps := server.HTTPDeps{
			Recordings: a.recordings,
			Settings:   settings,
			Capture:    recorder,
			CallState:  host,
			UDP:        udpServer,
			Auth:       server.NewAuthenticator(cfg.HTTP.Auth.JWTSecret, cfg.HTTP.Auth.Issuer),
			Metrics:    a.metrics,
			Gatherer:   a.registry,
			Logger:     logger,
		}
		if a.contacts != nil {
			deps.Contacts = a.contacts
		}
		httpServer = server.NewHTTPServer(cfg.HTTP, deps)
		if err := httpServer.Start(); err != nil {
			if udpServer != nil {
				udpServer.Stop()
			}
			return err
		}
	}

	logger.Info("Service started successfully, waiting for signals...")

	// Run returns after ctx is cancelled and the active capture is saved.
	runErr := host.Run(ctx)

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if udpServer != nil {
		if err := udpServer.Stop(); err != nil {
			logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
		}
		stats := udpServer.GetStatistics()
		logger.Info("Final listener statistics",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("parse_errors", stats.ParseErrors),
			slog.Uint64("heartbeats", stats.Heartbeats),
		)
	}

	logger.Info("Service stopped")
	return runErr
}
