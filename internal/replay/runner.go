package replay

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval spaces triggered passes.
const DefaultMinInterval = 30 * time.Second

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// MinInterval is the minimum spacing between passes. Triggers arriving
	// sooner are coalesced into the next allowed pass.
	MinInterval time.Duration

	// OnResult, if set, receives every pass result.
	OnResult func(Result)

	Logger *slog.Logger
}

// Runner runs replay passes in the background whenever it is triggered,
// for example on regaining connectivity or returning to the foreground.
type Runner struct {
	engine   *Engine
	appliers Appliers
	limiter  *rate.Limiter
	signal   chan struct{} // buffered, size 1
	onResult func(Result)
	logger   *slog.Logger
}

// NewRunner returns a Runner for engine.
func NewRunner(engine *Engine, appliers Appliers, opts RunnerOptions) *Runner {
	interval := opts.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = engine.logger
	}
	return &Runner{
		engine:   engine,
		appliers: appliers,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		signal:   make(chan struct{}, 1),
		onResult: opts.OnResult,
		logger:   logger,
	}
}

// Trigger requests a pass. It never blocks; triggers made while one is
// already pending collapse into it.
func (r *Runner) Trigger() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Run serves triggers until ctx is done and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.signal:
		}

		if err := r.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("replay rate limiter", "error", err)
			continue
		}

		res, err := r.engine.Replay(ctx, r.appliers)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("replay pass failed", "error", err)
			continue
		}
		if r.onResult != nil {
			r.onResult(res)
		}
	}
}
