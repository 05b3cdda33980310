package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/toursync/internal/remote"
	"github.com/roach88/toursync/internal/replay"
	"github.com/roach88/toursync/internal/status"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Watch bool
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Deliver queued actions to the realtime store",
		Long: `Run one replay pass: every queued action is applied oldest first.

Failed deliveries are retried on later passes with exponential backoff;
actions that exhaust their attempts stay failed until re-queued.

With --watch the command keeps running and replays whenever the queue has
pending work, no more often than replay.min_interval.

Exit codes:
  0 - Pass finished without failed deliveries
  1 - At least one delivery failed
  2 - Command error (remote not configured, database not openable, etc.)

Examples:
  toursync replay
  toursync replay --format json
  toursync replay --watch --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep replaying until interrupted")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	rt, err := openRuntime(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	client, err := rt.remote()
	if err != nil {
		return err
	}
	appliers := remote.Appliers(client)

	if opts.Watch {
		return watchReplay(ctx, rt, appliers)
	}

	res, err := rt.engine.Replay(ctx, appliers)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay aborted", err)
	}
	if err := rt.out.Emit(res, func(w io.Writer) {
		writeReplayResult(w, res, rt.out.Verbose)
	}); err != nil {
		return err
	}
	if res.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d delivery attempt(s) failed", res.Failed))
	}
	return nil
}

func writeReplayResult(w io.Writer, res replay.Result, verbose bool) {
	if res.Skipped {
		fmt.Fprintln(w, "Replay already running, skipped.")
		return
	}
	if verbose {
		for _, a := range res.Actions {
			line := fmt.Sprintf("  %-15s %s (%s, attempt %d)", a.Outcome, a.ID, a.Type, a.Attempts)
			if a.Error != "" {
				line += ": " + a.Error
			}
			if a.NextAttemptAt != nil {
				line += fmt.Sprintf(", next at %s", a.NextAttemptAt.Format(time.RFC3339))
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w, status.FormatSyncOutcome(res.Summary()))
	if res.Terminal > 0 {
		fmt.Fprintf(w, "✗ %d action(s) failed permanently; see 'toursync queue list'\n", res.Terminal)
	}
	if res.SkippedFailed > 0 {
		fmt.Fprintf(w, "%d failed action(s) waiting for 'toursync queue requeue'\n", res.SkippedFailed)
	}
}

// watchReplay triggers a pass at startup and whenever the queue has
// pending work, until interrupted.
func watchReplay(parent context.Context, rt *runtime, appliers replay.Appliers) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := replay.NewRunner(rt.engine, appliers, replay.RunnerOptions{
		MinInterval: rt.cfg.Replay.MinInterval,
		Logger:      rt.logger,
		OnResult: func(res replay.Result) {
			if err := rt.out.Emit(res, func(w io.Writer) {
				writeReplayResult(w, res, rt.out.Verbose)
			}); err != nil {
				rt.logger.Error("failed to write replay result", "error", err)
			}
		},
	})

	interval := rt.cfg.Replay.MinInterval
	if interval <= 0 {
		interval = replay.DefaultMinInterval
	}

	// Local changes arrive through Watch; the ticker picks up actions
	// enqueued by other processes.
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		updates := rt.queue.Watch(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-updates:
				if !ok {
					return
				}
				if s.Pending > 0 {
					runner.Trigger()
				}
			case <-ticker.C:
				runner.Trigger()
			}
		}
	}()
	runner.Trigger()

	rt.logger.Info("watching queue", "min_interval", interval)
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "replay runner stopped", err)
	}
	rt.logger.Info("replay watch stopped")
	return nil
}
