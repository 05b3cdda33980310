package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/toursync/internal/action"
	"github.com/roach88/toursync/internal/queue"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the action queue",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	cmd.AddCommand(newQueueHealthCommand(rootOpts))
	cmd.AddCommand(newQueueRequeueCommand(rootOpts))
	cmd.AddCommand(newQueueRemoveCommand(rootOpts))
	cmd.AddCommand(newQueueRecoverCommand(rootOpts))

	return cmd
}

// queueCommand builds a leaf command that runs fn against an open runtime.
func queueCommand(rootOpts *RootOptions, use, short string, args cobra.PositionalArgs, fn func(*runtime, *cobra.Command, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(commandContext(cmd), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return fn(rt, cmd, args)
		},
	}
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return queueCommand(rootOpts, "list", "List queued actions oldest first", cobra.NoArgs,
		func(rt *runtime, cmd *cobra.Command, _ []string) error {
			actions := rt.queue.List(commandContext(cmd))
			return rt.out.Emit(actions, func(w io.Writer) {
				writeActionTable(w, actions, rt.out.Verbose)
			})
		})
}

func writeActionTable(w io.Writer, actions []action.QueuedAction, verbose bool) {
	if len(actions) == 0 {
		fmt.Fprintln(w, "Queue is empty.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tENTITY\tSTATUS\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, a := range actions {
		lastErr := a.LastError
		if !verbose && len(lastErr) > 40 {
			lastErr = lastErr[:37] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			a.ID, a.Type, a.EntityID, a.Status, a.Attempts,
			a.CreatedAt.Format(time.RFC3339), lastErr)
	}
	tw.Flush()
}

func newQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return queueCommand(rootOpts, "stats", "Show queue counts", cobra.NoArgs,
		func(rt *runtime, cmd *cobra.Command, _ []string) error {
			s := rt.queue.Stats(commandContext(cmd))
			return rt.out.Emit(s, func(w io.Writer) {
				writeStats(w, s)
			})
		})
}

func writeStats(w io.Writer, s queue.Stats) {
	fmt.Fprintf(w, "Pending: %d\n", s.Pending)
	fmt.Fprintf(w, "Syncing: %d\n", s.Syncing)
	fmt.Fprintf(w, "Failed:  %d\n", s.Failed)
	fmt.Fprintf(w, "Total:   %d\n", s.Total)
}

func newQueueHealthCommand(rootOpts *RootOptions) *cobra.Command {
	var skipped int
	cmd := queueCommand(rootOpts, "health", "Report backlog health; exits 1 when warnings are raised", cobra.NoArgs,
		func(rt *runtime, cmd *cobra.Command, _ []string) error {
			h := rt.queue.Health(commandContext(cmd), skipped)
			if err := rt.out.Emit(h, func(w io.Writer) {
				writeStats(w, h.Stats)
				if h.OldestPendingAt != nil {
					fmt.Fprintf(w, "Oldest pending: %s (%s ago)\n", h.OldestPendingAt.Format(time.RFC3339), h.OldestPendingAge.Round(time.Second))
				}
				if h.Healthy() {
					fmt.Fprintln(w, "✓ Queue healthy")
					return
				}
				for _, warn := range h.Warnings {
					fmt.Fprintf(w, "✗ %s\n", warn)
				}
			}); err != nil {
				return err
			}
			if !h.Healthy() {
				return NewExitError(ExitFailure, fmt.Sprintf("queue unhealthy: %v", h.Warnings))
			}
			return nil
		})
	cmd.Flags().IntVar(&skipped, "skipped-failed", 0, "failed actions skipped by the last replay pass")
	return cmd
}

func newQueueRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := queueCommand(rootOpts, "requeue [action-id]", "Give failed actions a fresh retry budget", cobra.MaximumNArgs(1),
		func(rt *runtime, cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			switch {
			case all && len(args) == 0:
				n, err := rt.queue.RequeueFailed(ctx)
				if err != nil {
					return exitFromQueueError("requeue failed", err)
				}
				return rt.out.Emit(map[string]int{"requeued": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Re-queued %d failed action(s)\n", n)
				})
			case !all && len(args) == 1:
				a, err := rt.queue.Requeue(ctx, args[0])
				if err != nil {
					return exitFromQueueError("requeue failed", err)
				}
				return rt.out.Emit(a, func(w io.Writer) {
					fmt.Fprintf(w, "Re-queued %s\n", a.ID)
				})
			}
			return NewExitError(ExitCommandError, "pass exactly one of <action-id> or --all")
		})
	cmd.Flags().BoolVar(&all, "all", false, "re-queue every failed action")
	return cmd
}

func newQueueRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return queueCommand(rootOpts, "remove <action-id>", "Drop an action without delivering it", cobra.ExactArgs(1),
		func(rt *runtime, cmd *cobra.Command, args []string) error {
			removed, err := rt.queue.Remove(commandContext(cmd), args[0])
			if err != nil {
				return exitFromQueueError("remove failed", err)
			}
			if !removed {
				return NewExitError(ExitFailure, fmt.Sprintf("action not found: %s", args[0]))
			}
			return rt.out.Emit(map[string]string{"removed": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s\n", args[0])
			})
		})
}

func newQueueRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return queueCommand(rootOpts, "recover", "Return actions stuck in syncing to queued", cobra.NoArgs,
		func(rt *runtime, cmd *cobra.Command, _ []string) error {
			n, err := rt.queue.RecoverStuck(commandContext(cmd))
			if err != nil {
				return exitFromQueueError("recover failed", err)
			}
			return rt.out.Emit(map[string]int{"recovered": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Recovered %d stuck action(s)\n", n)
			})
		})
}
