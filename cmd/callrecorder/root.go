package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jnkforks/CallRecorder/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "callrecorder"
	serviceVersion    = "1.0.0"
)

// cli carries state shared by all subcommands.
type cli struct {
	configPath string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Record telephone calls and manage the recordings",
		Long:          "Records call audio when the carrier reports a call, keeps an index of recordings and offers trimming, MP3 export and retention.",
		Version:       serviceVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.Flags().Changed("config"))
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.logCloser != nil {
				return c.logCloser.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(newServeCmd(c))
	rootCmd.AddCommand(newListCmd(c))
	rootCmd.AddCommand(newTrimCmd(c))
	rootCmd.AddCommand(newConvertCmd(c))
	rootCmd.AddCommand(newDeleteCmd(c))
	rootCmd.AddCommand(newStarCmd(c))
	rootCmd.AddCommand(newSweepCmd(c))
	rootCmd.AddCommand(newRefreshContactsCmd(c))
	rootCmd.AddCommand(newTokenCmd(c))

	return rootCmd
}

// load reads the configuration. A missing default file falls back to the
// built-in defaults; an explicitly named file must exist.
func (c *cli) load(explicit bool) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		def := config.Default()
		cfg = &def
	}
	c.cfg = cfg
	c.logger, c.logCloser = initLogger(cfg.Logging)
	return nil
}

// withApp opens the recording store for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
