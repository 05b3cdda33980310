package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/toursync/internal/action"
	"github.com/roach88/toursync/internal/kv"
	"github.com/roach88/toursync/internal/queue"
	"github.com/roach88/toursync/internal/replay"
	"github.com/roach88/toursync/internal/testutil"
)

// Epoch is the fake clock's start and the base of enqueue offsets.
var Epoch = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

// Harness holds the state of one scenario execution.
type Harness struct {
	store   *kv.Provider
	queue   *queue.Queue
	engine  *replay.Engine
	clock   *testutil.FakeClock
	applier *scriptedApplier
	logger  *slog.Logger

	seq  int64
	runs int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store with a fake clock.
// Failed expectations are reported in Result.Errors; the error return is
// for scenarios that cannot be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := kv.New(ctx, kv.Options{Namespace: "harness", Backend: kv.NewMemoryBackend(), Logger: logger})
	clk := testutil.NewFakeClock(Epoch)

	policy := replay.Policy{}
	if p := scenario.Policy; p != nil {
		policy.MaxAttempts = p.MaxAttempts
		policy.BackoffCap = p.BackoffCap
	}

	q := queue.New(store, queue.Options{Clock: clk, Logger: logger})
	h := &Harness{
		store:   store,
		queue:   q,
		engine:  replay.New(q, store, replay.Options{Clock: clk, Logger: logger, Policy: policy}),
		clock:   clk,
		applier: newScriptedApplier(),
		logger:  logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	result.Applied = h.applier.log()
	for i, assertion := range scenario.Assertions {
		if err := h.evaluate(ctx, assertion, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	switch {
	case step.Enqueue != nil:
		return h.enqueue(ctx, step.Enqueue)
	case step.Fail != nil:
		h.applier.fail(step.Fail.ID, step.Fail.Error, step.Fail.Times)
	case step.Heal != "":
		h.applier.heal(step.Heal)
	case step.Replay != nil:
		return h.replay(ctx, index, step.Replay, result)
	case step.Advance > 0:
		h.clock.Advance(step.Advance)
	case step.Requeue != "":
		_, err := h.queue.Requeue(ctx, step.Requeue)
		return err
	case step.Remove != "":
		_, err := h.queue.Remove(ctx, step.Remove)
		return err
	case step.Recover:
		_, err := h.queue.RecoverStuck(ctx)
		return err
	case step.MarkProcessed != "":
		return h.queue.Processed().Add(ctx, step.MarkProcessed)
	case step.MarkSyncing != "":
		a, ok := h.queue.Get(ctx, step.MarkSyncing)
		if !ok {
			return fmt.Errorf("mark_syncing: action %s not queued", step.MarkSyncing)
		}
		syncing := action.StatusSyncing
		attempts := a.Attempts + 1
		_, err := h.queue.Update(ctx, a.ID, queue.Patch{Status: &syncing, Attempts: &attempts})
		return err
	}
	return nil
}

func (h *Harness) enqueue(ctx context.Context, e *EnqueueStep) error {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: encode payload: %w", e.ID, err)
	}
	typ := action.Type(e.Type)
	payload, err := action.DecodePayload(typ, raw)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", e.ID, err)
	}
	_, err = h.queue.Enqueue(ctx, action.Input{
		ID:        e.ID,
		Type:      typ,
		EntityID:  e.Entity,
		CreatedAt: Epoch.Add(e.At),
		Payload:   payload,
	})
	return err
}

var passCounters = map[string]func(replay.Result) int{
	"synced":          func(r replay.Result) int { return r.Synced },
	"failed":          func(r replay.Result) int { return r.Failed },
	"terminal":        func(r replay.Result) int { return r.Terminal },
	"duplicates":      func(r replay.Result) int { return r.Duplicates },
	"skipped_failed":  func(r replay.Result) int { return r.SkippedFailed },
	"skipped_backoff": func(r replay.Result) int { return r.SkippedBackoff },
	"skipped": func(r replay.Result) int {
		if r.Skipped {
			return 1
		}
		return 0
	},
}

func (h *Harness) replay(ctx context.Context, index int, step *ReplayStep, result *Result) error {
	appliers := replay.Appliers{}
	for _, typ := range action.KnownTypes() {
		if !slices.Contains(step.Without, string(typ)) {
			appliers[typ] = h.applier
		}
	}

	res, err := h.engine.Replay(ctx, appliers)
	if err != nil {
		return err
	}
	h.runs++

	for _, ar := range res.Actions {
		h.seq++
		result.Trace = append(result.Trace, TraceEvent{
			Seq:      h.seq,
			Run:      h.runs,
			ActionID: ar.ID,
			Type:     string(ar.Type),
			Outcome:  string(ar.Outcome),
			Attempts: ar.Attempts,
			Error:    ar.Error,
		})
	}

	for _, key := range sortedKeys(step.Expect) {
		want := step.Expect[key]
		if got := passCounters[key](res); got != want {
			result.AddError(fmt.Sprintf("steps[%d].replay: %s = %d, want %d", index, key, got, want))
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// scriptedApplier logs every call and fails ids on request.
type scriptedApplier struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]*scriptedFailure
}

type scriptedFailure struct {
	err       string
	remaining int // -1 means forever
}

func newScriptedApplier() *scriptedApplier {
	return &scriptedApplier{failures: map[string]*scriptedFailure{}}
}

func (s *scriptedApplier) Apply(_ context.Context, a action.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, a.ID)
	f, ok := s.failures[a.ID]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return errors.New(f.err)
}

func (s *scriptedApplier) fail(id, msg string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := times
	if times == 0 {
		remaining = -1
	}
	s.failures[id] = &scriptedFailure{err: msg, remaining: remaining}
}

func (s *scriptedApplier) heal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, id)
}

func (s *scriptedApplier) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.calls...)
}
