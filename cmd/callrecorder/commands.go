package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnkforks/CallRecorder/internal/server"
	"github.com/jnkforks/CallRecorder/internal/storage"
)

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid recording id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newListCmd(c *cli) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := storage.ParseFilter(filter)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				list, err := a.recordings.List(cmd.Context())
				if err != nil {
					return err
				}
				list = f.Apply(list)

				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No recordings found")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTARTED\tDIRECTION\tNAME\tDURATION\tFLAGS\tPATH")
				for _, rec := range list {
					flags := ""
					if rec.IsStarred {
						flags += "*"
					}
					if rec.SkipAutoDelete {
						flags += "K"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
						rec.ID,
						rec.StartInstant.Local().Format(time.DateTime),
						rec.Direction,
						rec.Name,
						rec.Duration.Round(time.Second),
						flags,
						rec.SavePath,
					)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "Filter: all, incoming, outgoing or starred")

	return cmd
}

func newTrimCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "trim ID...",
		Short: "Cut leading and trailing silence from recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				for _, id := range ids {
					rec, err := a.recordings.TrimSilenceEnds(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("trim %d: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d trimmed to %s\n", id, rec.Duration)
				}
				return nil
			})
		},
	}
}

func newConvertCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "convert ID...",
		Short: "Export recordings as MP3 next to the WAV file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				for _, id := range ids {
					path, err := a.recordings.ConvertToMp3(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("convert %d: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d -> %s\n", id, path)
				}
				return nil
			})
		},
	}
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete recordings and their files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				return a.recordings.DeleteRecording(cmd.Context(), ids)
			})
		},
	}
}

func newStarCmd(c *cli) *cobra.Command {
	var keep bool

	cmd := &cobra.Command{
		Use:   "star ID...",
		Short: "Toggle the starred flag, or the auto-delete exemption with --keep",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				if keep {
					return a.recordings.ToggleSkipAutoDelete(cmd.Context(), ids)
				}
				return a.recordings.ToggleStar(cmd.Context(), ids)
			})
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Toggle skip-auto-delete instead of starred")

	return cmd
}

func newSweepCmd(c *cli) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete recordings older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1, got %d", days)
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				n, err := a.recordings.DeleteOverDaysOldIfNotSkippedAutoDelete(cmd.Context(), time.Duration(days)*24*time.Hour)
				fmt.Fprintf(cmd.OutOrStdout(), "%d recordings deleted\n", n)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Retention period in days")

	return cmd
}

func newRefreshContactsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-contacts",
		Short: "Look up contact names again and rename recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if a.contacts == nil {
					return fmt.Errorf("no contact source configured")
				}
				n, err := a.recordings.UpdateContactNames(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d recordings renamed\n", n)
				return nil
			})
		},
	}
}

func newTokenCmd(c *cli) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth := server.NewAuthenticator(c.cfg.HTTP.Auth.JWTSecret, c.cfg.HTTP.Auth.Issuer)
			if auth == nil {
				return fmt.Errorf("http.auth.jwt_secret is not configured")
			}
			token, err := auth.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
