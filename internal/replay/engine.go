package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/toursync/internal/action"
	"github.com/roach88/toursync/internal/clock"
	"github.com/roach88/toursync/internal/kv"
	"github.com/roach88/toursync/internal/queue"
	"github.com/roach88/toursync/internal/status"
)

// LastSuccessKey stores the time of the last pass without failures.
const LastSuccessKey = "last_success_at"

// Options configures an Engine.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	Policy Policy
}

// Engine runs replay passes over one queue.
//
// Thread-safety: Replay may be called from any goroutine; overlapping calls
// are skipped rather than queued.
type Engine struct {
	queue  *queue.Queue
	store  *kv.Provider
	clock  clock.Clock
	logger *slog.Logger
	policy Policy

	running     atomic.Bool
	recoverOnce sync.Once
}

// New returns an Engine draining q. The watermark is kept in store.
func New(q *queue.Queue, store *kv.Provider, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		queue:  q,
		store:  store,
		clock:  clock.OrSystem(opts.Clock),
		logger: logger.With("component", "replay"),
		policy: opts.Policy.withDefaults(),
	}
}

// Outcome is what a pass did with one action.
type Outcome string

const (
	OutcomeSynced        Outcome = "synced"
	OutcomeRetry         Outcome = "retry"
	OutcomeFailed        Outcome = "failed"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeSkippedFailed Outcome = "skipped_failed"
	OutcomeBackoff       Outcome = "backoff"
)

// ActionResult records one action's handling in a pass.
type ActionResult struct {
	ID            string      `json:"id"`
	Type          action.Type `json:"type"`
	Outcome       Outcome     `json:"outcome"`
	Attempts      int         `json:"attempts"`
	Error         string      `json:"error,omitempty"`
	NextAttemptAt *time.Time  `json:"nextAttemptAt,omitempty"`
}

// Result summarizes a pass.
type Result struct {
	// Skipped is set when another pass was already running.
	Skipped bool `json:"skipped"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Synced         int `json:"synced"`
	Failed         int `json:"failed"`
	Terminal       int `json:"terminal"`
	Duplicates     int `json:"duplicates"`
	SkippedFailed  int `json:"skippedFailed"`
	SkippedBackoff int `json:"skippedBackoff"`

	Actions []ActionResult `json:"actions"`

	// Stats are the queue counts after the pass.
	Stats         queue.Stats `json:"stats"`
	LastSuccessAt *time.Time  `json:"lastSuccessAt,omitempty"`
}

// Summary reports the pass as a SyncSummary: actions synced, actions
// still waiting in the queue, and failed attempts in this pass.
func (r Result) Summary() status.SyncSummary {
	return status.SyncSummary{
		SyncedCount:   r.Synced,
		PendingCount:  r.Stats.Pending + r.Stats.Syncing,
		FailedCount:   r.Failed,
		LastSuccessAt: r.LastSuccessAt,
		Source:        status.SourceReplay,
	}
}

// Replay runs one pass with the given appliers.
//
// It returns an error only when ctx is cancelled or the queue cannot be
// written; applier failures are recorded on the actions instead.
func (e *Engine) Replay(ctx context.Context, appliers Appliers) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("replay already running, skipping")
		return Result{Skipped: true, Actions: []ActionResult{}}, nil
	}
	defer e.running.Store(false)

	e.recoverOnce.Do(func() {
		if _, err := e.queue.RecoverStuck(ctx); err != nil {
			e.logger.Error("startup recovery failed", "error", err)
		}
	})

	res := Result{StartedAt: e.clock.Now(), Actions: []ActionResult{}}
	err := e.pass(ctx, appliers, &res)

	e.queue.Notify(ctx)
	res.Stats = e.queue.Stats(ctx)
	res.FinishedAt = e.clock.Now()

	if err == nil && res.Failed == 0 {
		now := res.FinishedAt
		if werr := e.store.SetJSON(ctx, LastSuccessKey, now); werr != nil {
			err = fmt.Errorf("advance last success: %w", werr)
		} else {
			res.LastSuccessAt = &now
		}
	}
	if res.LastSuccessAt == nil {
		res.LastSuccessAt = e.LastSuccessAt(ctx)
	}

	e.logger.Info("replay pass finished",
		"synced", res.Synced,
		"failed", res.Failed,
		"terminal", res.Terminal,
		"duplicates", res.Duplicates,
		"skipped_failed", res.SkippedFailed,
		"skipped_backoff", res.SkippedBackoff,
		"remaining", res.Stats.Total,
	)
	return res, err
}

func (e *Engine) pass(ctx context.Context, appliers Appliers, res *Result) error {
	processed := e.queue.Processed()

	for _, a := range e.queue.List(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if processed.Contains(ctx, a.ID) {
			if _, err := e.queue.Remove(ctx, a.ID); err != nil {
				return err
			}
			res.Duplicates++
			res.record(a, OutcomeDuplicate, "")
			continue
		}
		if a.Status == action.StatusFailed {
			res.SkippedFailed++
			res.record(a, OutcomeSkippedFailed, a.LastError)
			continue
		}
		if a.BackoffPending(e.clock.Now()) {
			res.SkippedBackoff++
			res.record(a, OutcomeBackoff, a.LastError)
			continue
		}

		ar, err := e.attempt(ctx, appliers, a)
		if err != nil {
			return err
		}
		switch ar.Outcome {
		case OutcomeSynced:
			res.Synced++
		case OutcomeRetry:
			res.Failed++
		case OutcomeFailed:
			res.Failed++
			res.Terminal++
		default:
			continue
		}
		res.Actions = append(res.Actions, ar)
	}
	return nil
}

// attempt marks a syncing, applies it and records the outcome. A zero
// Outcome means the action disappeared before it could be attempted.
func (e *Engine) attempt(ctx context.Context, appliers Appliers, a action.QueuedAction) (ActionResult, error) {
	syncing := action.StatusSyncing
	attempts := a.Attempts + 1
	marked, err := e.queue.Update(ctx, a.ID, queue.Patch{Status: &syncing, Attempts: &attempts})
	if err != nil {
		if queue.IsNotFound(err) {
			return ActionResult{}, nil
		}
		return ActionResult{}, err
	}

	ap, ok := appliers[marked.Type]
	if !ok || ap == nil {
		cause := fmt.Errorf("%w: %s", ErrNoApplier, marked.Type)
		return e.fail(ctx, marked, cause, true)
	}

	if err := apply(ctx, ap, marked); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return ActionResult{}, ctx.Err()
		}
		return e.fail(ctx, marked, err, false)
	}

	if err := e.queue.Processed().Add(ctx, marked.ID); err != nil {
		return ActionResult{}, err
	}
	if _, err := e.queue.Remove(ctx, marked.ID); err != nil {
		return ActionResult{}, err
	}
	e.logger.Debug("action synced", "id", marked.ID, "type", marked.Type, "attempts", marked.Attempts)
	return ActionResult{ID: marked.ID, Type: marked.Type, Outcome: OutcomeSynced, Attempts: marked.Attempts}, nil
}

func (e *Engine) fail(ctx context.Context, a action.QueuedAction, cause error, terminal bool) (ActionResult, error) {
	msg := cause.Error()
	ar := ActionResult{ID: a.ID, Type: a.Type, Attempts: a.Attempts, Error: msg}

	patch := queue.Patch{LastError: &msg}
	n := a.AttemptsSinceRetry()
	if terminal || n >= e.policy.MaxAttempts {
		st := action.StatusFailed
		patch.Status = &st
		patch.ClearNextAttemptAt = true
		ar.Outcome = OutcomeFailed
		e.logger.Warn("action failed permanently", "id", a.ID, "type", a.Type, "attempts", a.Attempts, "error", msg)
	} else {
		st := action.StatusQueued
		next := e.clock.Now().Add(e.policy.Backoff(n))
		patch.Status = &st
		patch.NextAttemptAt = &next
		ar.Outcome = OutcomeRetry
		ar.NextAttemptAt = &next
		e.logger.Info("action failed, will retry", "id", a.ID, "type", a.Type, "attempts", a.Attempts, "next_attempt_at", next, "error", msg)
	}

	if _, err := e.queue.Update(ctx, a.ID, patch); err != nil && !queue.IsNotFound(err) {
		return ar, err
	}
	return ar, nil
}

func (r *Result) record(a action.QueuedAction, o Outcome, errMsg string) {
	r.Actions = append(r.Actions, ActionResult{
		ID:            a.ID,
		Type:          a.Type,
		Outcome:       o,
		Attempts:      a.Attempts,
		Error:         errMsg,
		NextAttemptAt: a.NextAttemptAt,
	})
}

// LastSuccessAt returns the watermark, or nil if no pass has succeeded.
func (e *Engine) LastSuccessAt(ctx context.Context) *time.Time {
	var t time.Time
	found, err := e.store.GetJSON(ctx, LastSuccessKey, &t)
	if err != nil {
		e.logger.Warn("last success watermark corrupt", "error", err)
		return nil
	}
	if !found || t.IsZero() {
		return nil
	}
	return &t
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool { return e.running.Load() }
