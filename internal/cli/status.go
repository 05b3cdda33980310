package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/toursync/internal/status"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Offline  bool
	Degraded bool
	Probe    bool
}

// StatusReport is the status command's JSON payload.
type StatusReport struct {
	State   status.State       `json:"state"`
	Summary status.SyncSummary `json:"summary"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the unified sync state",
		Long: `Derive the single sync state shown to the guide from connectivity,
backend health and the queue backlog.

With --probe the configured realtime store is pinged to decide whether
the backend is reachable or degraded; without it the backend is assumed
reachable unless --degraded is given.

Examples:
  toursync status
  toursync status --offline
  toursync status --probe --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "report the device as offline")
	cmd.Flags().BoolVar(&opts.Degraded, "degraded", false, "report the backend as degraded")
	cmd.Flags().BoolVar(&opts.Probe, "probe", false, "ping the realtime store")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	rt, err := openRuntime(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	network := status.Network{Online: status.Bool(!opts.Offline)}
	backend := status.Backend{Degraded: opts.Degraded}
	if opts.Probe && !opts.Offline {
		client, err := rt.remote()
		if err != nil {
			return err
		}
		probed := client.Health(ctx)
		probed.Degraded = probed.Degraded || opts.Degraded
		backend = probed
	}

	stats := rt.queue.Stats(ctx)
	lastSync := rt.engine.LastSuccessAt(ctx)
	state := status.Derive(network, backend, status.QueueCounts{
		Pending: stats.Pending,
		Syncing: stats.Syncing,
		Failed:  stats.Failed,
	}, lastSync)

	report := StatusReport{
		State: state,
		Summary: status.SyncSummary{
			PendingCount:  stats.Pending + stats.Syncing,
			FailedCount:   stats.Failed,
			LastSuccessAt: lastSync,
			Source:        status.SourceManual,
		},
	}

	return rt.out.Emit(report, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s\n", state.Metadata.Label, state.Metadata.Description)
		if state.Metadata.ShowLastSync {
			if lastSync != nil {
				fmt.Fprintf(w, "Last sync: %s\n", lastSync.Format(time.RFC3339))
			} else {
				fmt.Fprintln(w, "Last sync: never")
			}
		}
		if stats.Backlog() > 0 {
			fmt.Fprintf(w, "Backlog: %d pending, %d failed\n", stats.Pending+stats.Syncing, stats.Failed)
		}
		if state.Metadata.ShowRetry {
			fmt.Fprintln(w, "Run 'toursync replay' to retry now.")
		}
	})
}
