// Command callsim drives a running call recorder during development. It sends
// call-state datagrams the way the telephony gateway does and can serve a
// contact directory over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jnkforks/CallRecorder/internal/callstate"
	"github.com/jnkforks/CallRecorder/internal/protocol"
)

// scenarios are the call-state sequences a gateway reports for common calls.
var scenarios = map[string][]callstate.State{
	"incoming": {callstate.Ringing, callstate.OffHook, callstate.Idle},
	"missed":   {callstate.Ringing, callstate.Idle},
	"outgoing": {callstate.OffHook, callstate.Idle},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "callsim",
		Short:         "Simulate a telephony gateway for the call recorder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCallCmd(logger))
	root.AddCommand(newStatesCmd(logger))
	root.AddCommand(newHeartbeatCmd(logger))
	root.AddCommand(newDirectoryCmd(logger))
	return root
}

func newCallCmd(logger *slog.Logger) *cobra.Command {
	var (
		target   string
		number   string
		lineID   uint32
		talkTime time.Duration
	)

	cmd := &cobra.Command{
		Use:       "call incoming|missed|outgoing",
		Short:     "Send the call-state sequence of one call",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"incoming", "missed", "outgoing"},
		RunE: func(cmd *cobra.Command, args []string) error {
			states, ok := scenarios[args[0]]
			if !ok {
				return fmt.Errorf("unknown scenario %q", args[0])
			}

			pause := func(st callstate.State) time.Duration {
				if st == callstate.OffHook {
					return talkTime
				}
				return time.Second
			}
			return sendStates(cmd.Context(), logger, target, lineID, number, states, pause)
		},
	}
	cmd.Flags().StringVar(&target, "target", "127.0.0.1:4444", "Call recorder UDP address")
	cmd.Flags().StringVar(&number, "number", "+15550100", "Remote phone number")
	cmd.Flags().Uint32Var(&lineID, "line", 1, "Line identifier")
	cmd.Flags().DurationVar(&talkTime, "talk", 5*time.Second, "Time between answer and hang-up")

	return cmd
}

func newStatesCmd(logger *slog.Logger) *cobra.Command {
	var (
		target   string
		number   string
		lineID   uint32
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "states STATE...",
		Short: "Send an arbitrary sequence of idle, ringing and offhook states",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := parseStates(args)
			if err != nil {
				return err
			}
			pause := func(callstate.State) time.Duration { return interval }
			return sendStates(cmd.Context(), logger, target, lineID, number, states, pause)
		},
	}
	cmd.Flags().StringVar(&target, "target", "127.0.0.1:4444", "Call recorder UDP address")
	cmd.Flags().StringVar(&number, "number", "+15550100", "Remote phone number")
	cmd.Flags().Uint32Var(&lineID, "line", 1, "Line identifier")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Time between states")

	return cmd
}

func parseStates(names []string) ([]callstate.State, error) {
	states := make([]callstate.State, 0, len(names))
	for _, name := range names {
		st, err := callstate.ParseState(name)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}

// sendStates writes one call-state datagram per state, waiting pause(st)
// after each state except the last.
func sendStates(ctx context.Context, logger *slog.Logger, target string, lineID uint32, number string, states []callstate.State, pause func(callstate.State) time.Duration) error {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", target, err)
	}
	defer conn.Close()

	for i, st := range states {
		packet, err := protocol.EncodeCallState(lineID, st, number, time.Now())
		if err != nil {
			return err
		}
		if _, err := conn.Write(packet); err != nil {
			return fmt.Errorf("failed to send %s: %w", st, err)
		}
		logger.Info("Sent call state",
			slog.String("state", st.String()),
			slog.String("number", number),
			slog.Uint64("line_id", uint64(lineID)),
		)

		if i < len(states)-1 {
			select {
			case <-time.After(pause(st)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func newHeartbeatCmd(logger *slog.Logger) *cobra.Command {
	var (
		target   string
		lineID   uint32
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Send heartbeat datagrams",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.Dial("udp", target)
			if err != nil {
				return fmt.Errorf("failed to dial %s: %w", target, err)
			}
			defer conn.Close()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for sent := 0; count <= 0 || sent < count; sent++ {
				if _, err := conn.Write(protocol.EncodeHeartbeat(lineID)); err != nil {
					return err
				}
				logger.Debug("Sent heartbeat", slog.Int("n", sent+1))
				select {
				case <-ticker.C:
				case <-cmd.Context().Done():
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "127.0.0.1:4444", "Call recorder UDP address")
	cmd.Flags().Uint32Var(&lineID, "line", 1, "Line identifier")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Time between heartbeats")
	cmd.Flags().IntVar(&count, "count", 0, "Number of heartbeats to send, 0 for unlimited")

	return cmd
}
