package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/toursync/internal/config"
	"github.com/roach88/toursync/internal/kv"
	"github.com/roach88/toursync/internal/queue"
	"github.com/roach88/toursync/internal/remote"
	"github.com/roach88/toursync/internal/replay"
	"github.com/roach88/toursync/internal/schema"
	"github.com/roach88/toursync/internal/tourpack"
)

// runtime is the engine wired from config for one command invocation.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *kv.SQLiteBackend // nil when ephemeral or unopenable

	queueStore *kv.Provider
	packStore  *kv.Provider

	queue  *queue.Queue
	engine *replay.Engine
	cache  *tourpack.Cache
	out    *OutputFormatter
}

// openRuntime loads config and opens the store. Callers must Close it.
func openRuntime(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
		cfg.Ephemeral = false
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		out:    &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose},
	}

	validator, err := schema.New()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load payload schemas", err)
	}

	storeOpts, err := rt.storeOptions(opts)
	if err != nil {
		return nil, err
	}
	rt.queueStore = kv.New(ctx, storeOpts("queue"))
	rt.packStore = kv.New(ctx, storeOpts("tourpack"))

	rt.queue = queue.New(rt.queueStore, queue.Options{
		Validator:    validator,
		Logger:       logger,
		ProcessedCap: cfg.Queue.ProcessedCap,
		Thresholds:   cfg.HealthThresholds(),
	})
	rt.engine = replay.New(rt.queue, rt.queueStore, replay.Options{Logger: logger, Policy: cfg.ReplayPolicy()})
	rt.cache = tourpack.New(rt.packStore, tourpack.Options{Logger: logger, Thresholds: cfg.StalenessThresholds()})
	return rt, nil
}

// storeOptions decides how each namespace picks its backend. Ephemeral
// config injects memory and --db injects that SQLite file. Otherwise every
// namespace probes the host keystore, then the configured SQLite file, then
// falls back to memory.
func (rt *runtime) storeOptions(opts *RootOptions) (func(namespace string) kv.Options, error) {
	cfg := rt.cfg
	base := kv.Options{
		Logger:    rt.logger,
		Ephemeral: func() bool { return cfg.Ephemeral },
	}

	switch {
	case cfg.Ephemeral:
		base.Backend = kv.NewMemoryBackend()
	case opts.Database != "":
		db, err := kv.OpenSQLite(cfg.Database)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		rt.db = db
		base.Backend = db
	default:
		base.Candidates = []kv.Backend{kv.NewKeystoreBackend(opts.Keystore)}
		db, err := kv.OpenSQLite(cfg.Database)
		if err != nil {
			rt.logger.Error("device store unavailable", "path", cfg.Database, "error", err)
		} else {
			rt.db = db
			base.Candidates = append(base.Candidates, db)
		}
	}

	return func(namespace string) kv.Options {
		o := base
		o.Namespace = namespace
		return o
	}, nil
}

// remote returns a client for the configured store.
func (rt *runtime) remote() (*remote.Client, error) {
	if rt.cfg.Remote.BaseURL == "" {
		return nil, NewExitError(ExitCommandError, "remote.base_url is not configured (set it in the config file or TOURSYNC_REMOTE_URL)")
	}
	opts := rt.cfg.RemoteOptions()
	opts.Logger = rt.logger
	c, err := remote.New(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid remote configuration", err)
	}
	return c, nil
}

func (rt *runtime) Close() {
	if rt.db == nil {
		return
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Error("error closing database", "error", err)
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// commandContext returns the command's context, or Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// exitFromQueueError maps queue errors to exit codes.
func exitFromQueueError(msg string, err error) error {
	var qerr *queue.Error
	if errors.As(err, &qerr) {
		return WrapExitError(ExitFailure, msg, err)
	}
	return WrapExitError(ExitCommandError, msg, err)
}
