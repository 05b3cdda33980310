package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/toursync/internal/action"
	"github.com/roach88/toursync/internal/clock"
	"github.com/roach88/toursync/internal/kv"
)

// QueueKey is the storage key of the queue blob.
const QueueKey = "queue_v1"

const blobVersion = 1

// Validator checks a payload before it is accepted. schema.Validator
// satisfies it.
type Validator interface {
	Validate(t action.Type, raw json.RawMessage) error
}

// Options configures a Queue.
type Options struct {
	Clock     clock.Clock
	Validator Validator
	Logger    *slog.Logger

	// ProcessedCap bounds the ProcessedSet; defaults to 500.
	ProcessedCap int

	// Thresholds drive Health warnings.
	Thresholds Thresholds
}

// Queue is the durable, ordered list of pending actions.
//
// Thread-safety: Queue is safe for concurrent use. Each mutation holds the
// queue mutex across its read-modify-write of the stored blob.
type Queue struct {
	store      *kv.Provider
	clock      clock.Clock
	validator  Validator
	logger     *slog.Logger
	thresholds Thresholds
	processed  *ProcessedSet

	mu   sync.Mutex
	subs registry

	// notifyMu orders deliveries: stats are computed and handed to
	// listeners under it, so each listener sees snapshots oldest first.
	notifyMu sync.Mutex
}

// blob is the persisted queue shape.
type blob struct {
	Version int                   `json:"version"`
	Actions []action.QueuedAction `json:"actions"`
}

// New returns a Queue stored in p.
func New(p *kv.Provider, opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "queue")

	return &Queue{
		store:      p,
		clock:      clock.OrSystem(opts.Clock),
		validator:  opts.Validator,
		logger:     logger,
		thresholds: opts.Thresholds.withDefaults(),
		processed:  newProcessedSet(p, opts.ProcessedCap, logger),
	}
}

// Processed returns the processed-id set that shares this queue's store.
func (q *Queue) Processed() *ProcessedSet { return q.processed }

// Enqueue adds an action. If an action with the same id exists it is
// returned unchanged and nothing is written.
func (q *Queue) Enqueue(ctx context.Context, in action.Input) (action.QueuedAction, error) {
	if err := in.Validate(); err != nil {
		return action.QueuedAction{}, &Error{Code: ErrCodeInvalidAction, Message: err.Error(), ActionID: in.ID, Err: err}
	}
	if q.validator != nil && in.Payload != nil {
		raw, err := action.EncodePayload(in.Payload)
		if err != nil {
			return action.QueuedAction{}, &Error{Code: ErrCodeInvalidPayload, Message: err.Error(), ActionID: in.ID, Err: err}
		}
		if err := q.validator.Validate(in.Type, raw); err != nil {
			return action.QueuedAction{}, &Error{Code: ErrCodeInvalidPayload, Message: err.Error(), ActionID: in.ID, Err: err}
		}
	}

	q.mu.Lock()
	actions := q.load(ctx)
	if i := indexOf(actions, in.ID); i >= 0 {
		q.mu.Unlock()
		q.logger.Debug("duplicate enqueue ignored", "id", in.ID)
		return actions[i].Clone(), nil
	}

	now := q.clock.Now()
	created := in.CreatedAt
	if created.IsZero() {
		created = now
	}
	qa := action.QueuedAction{
		ID:            in.ID,
		Type:          in.Type,
		EntityID:      in.EntityID,
		CreatedAt:     created.UTC(),
		Payload:       in.Payload,
		Status:        action.StatusQueued,
		LastUpdatedAt: now,
	}
	actions = append(actions, qa)
	err := q.save(ctx, actions)
	q.mu.Unlock()
	if err != nil {
		return action.QueuedAction{}, err
	}

	q.logger.Debug("action enqueued", "id", qa.ID, "type", qa.Type, "entity", qa.EntityID)
	q.Notify(ctx)
	return qa.Clone(), nil
}

// List returns every action sorted by createdAt ascending.
func (q *Queue) List(ctx context.Context) []action.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Get returns the action with id.
func (q *Queue) Get(ctx context.Context, id string) (action.QueuedAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	actions := q.load(ctx)
	if i := indexOf(actions, id); i >= 0 {
		return actions[i], true
	}
	return action.QueuedAction{}, false
}

// Patch is a partial update. Nil fields are left as they are.
type Patch struct {
	Status    *action.Status
	Attempts  *int
	RetryBase *int
	LastError *string

	NextAttemptAt *time.Time
	// ClearNextAttemptAt removes the backoff gate; it wins over NextAttemptAt.
	ClearNextAttemptAt bool
}

// Update merges patch into the action with id and returns the result.
func (q *Queue) Update(ctx context.Context, id string, patch Patch) (action.QueuedAction, error) {
	q.mu.Lock()
	actions := q.load(ctx)
	i := indexOf(actions, id)
	if i < 0 {
		q.mu.Unlock()
		return action.QueuedAction{}, notFound(id)
	}

	updated, err := applyPatch(actions[i], patch)
	if err != nil {
		q.mu.Unlock()
		return action.QueuedAction{}, err
	}
	updated.LastUpdatedAt = q.clock.Now()
	actions[i] = updated
	err = q.save(ctx, actions)
	q.mu.Unlock()
	if err != nil {
		return action.QueuedAction{}, err
	}

	q.Notify(ctx)
	return updated.Clone(), nil
}

func applyPatch(a action.QueuedAction, p Patch) (action.QueuedAction, error) {
	if p.Status != nil {
		switch *p.Status {
		case action.StatusQueued, action.StatusSyncing, action.StatusFailed:
			a.Status = *p.Status
		default:
			return a, invalidPatch(a.ID, "unknown status %q", *p.Status)
		}
	}
	if p.Attempts != nil {
		if *p.Attempts < a.Attempts {
			return a, invalidPatch(a.ID, "attempts cannot decrease (%d -> %d)", a.Attempts, *p.Attempts)
		}
		a.Attempts = *p.Attempts
	}
	if p.RetryBase != nil {
		a.RetryBase = *p.RetryBase
	}
	if a.RetryBase < 0 || a.RetryBase > a.Attempts {
		return a, invalidPatch(a.ID, "retryBase %d outside [0, %d]", a.RetryBase, a.Attempts)
	}
	if p.LastError != nil {
		a.LastError = *p.LastError
	}
	switch {
	case p.ClearNextAttemptAt:
		a.NextAttemptAt = nil
	case p.NextAttemptAt != nil:
		t := p.NextAttemptAt.UTC()
		a.NextAttemptAt = &t
	}
	return a, nil
}

// Remove deletes the action with id and reports whether it existed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	actions := q.load(ctx)
	i := indexOf(actions, id)
	if i < 0 {
		q.mu.Unlock()
		return false, nil
	}
	actions = slices.Delete(actions, i, i+1)
	err := q.save(ctx, actions)
	q.mu.Unlock()
	if err != nil {
		return false, err
	}

	q.Notify(ctx)
	return true, nil
}

// Requeue resets a failed action to queued, clears its error and backoff,
// and starts a fresh attempt budget from its current attempt count.
func (q *Queue) Requeue(ctx context.Context, id string) (action.QueuedAction, error) {
	q.mu.Lock()
	actions := q.load(ctx)
	i := indexOf(actions, id)
	if i < 0 {
		q.mu.Unlock()
		return action.QueuedAction{}, notFound(id)
	}
	if actions[i].Status != action.StatusFailed {
		q.mu.Unlock()
		return action.QueuedAction{}, invalidPatch(id, "only failed actions can be re-queued (status %s)", actions[i].Status)
	}
	actions[i] = q.reset(actions[i])
	requeued := actions[i]
	err := q.save(ctx, actions)
	q.mu.Unlock()
	if err != nil {
		return action.QueuedAction{}, err
	}

	q.logger.Info("action re-queued", "id", id, "attempts", requeued.Attempts)
	q.Notify(ctx)
	return requeued.Clone(), nil
}

// RequeueFailed re-queues every failed action and returns how many changed.
func (q *Queue) RequeueFailed(ctx context.Context) (int, error) {
	return q.resetWhere(ctx, action.StatusFailed, "failed actions re-queued")
}

// RecoverStuck reverts actions left in syncing by an interrupted pass back
// to queued. Their attempt counts are kept.
func (q *Queue) RecoverStuck(ctx context.Context) (int, error) {
	q.mu.Lock()
	actions := q.load(ctx)
	n := 0
	for i := range actions {
		if actions[i].Status == action.StatusSyncing {
			actions[i].Status = action.StatusQueued
			actions[i].LastUpdatedAt = q.clock.Now()
			n++
		}
	}
	if n == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	err := q.save(ctx, actions)
	q.mu.Unlock()
	if err != nil {
		return 0, err
	}

	q.logger.Warn("recovered actions stuck in syncing", "count", n)
	q.Notify(ctx)
	return n, nil
}

func (q *Queue) resetWhere(ctx context.Context, status action.Status, msg string) (int, error) {
	q.mu.Lock()
	actions := q.load(ctx)
	n := 0
	for i := range actions {
		if actions[i].Status == status {
			actions[i] = q.reset(actions[i])
			n++
		}
	}
	if n == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	err := q.save(ctx, actions)
	q.mu.Unlock()
	if err != nil {
		return 0, err
	}

	q.logger.Info(msg, "count", n)
	q.Notify(ctx)
	return n, nil
}

func (q *Queue) reset(a action.QueuedAction) action.QueuedAction {
	a.Status = action.StatusQueued
	a.RetryBase = a.Attempts
	a.LastError = ""
	a.NextAttemptAt = nil
	a.LastUpdatedAt = q.clock.Now()
	return a
}

// load reads and decodes the blob. Callers hold q.mu.
func (q *Queue) load(ctx context.Context) []action.QueuedAction {
	data, ok := q.store.Get(ctx, QueueKey)
	if !ok {
		return nil
	}

	var b blob
	err := json.Unmarshal(data, &b)
	if err == nil && b.Version != blobVersion {
		err = fmt.Errorf("unsupported queue version %d", b.Version)
	}
	if err != nil {
		q.logger.Warn("queue blob corrupt, resetting to empty", "error", err)
		if werr := q.save(ctx, nil); werr != nil && !errors.Is(werr, context.Canceled) {
			q.logger.Error("failed to rewrite corrupt queue", "error", werr)
		}
		return nil
	}

	sortActions(b.Actions)
	return b.Actions
}

// save writes actions sorted by createdAt. Callers hold q.mu.
func (q *Queue) save(ctx context.Context, actions []action.QueuedAction) error {
	sortActions(actions)
	if actions == nil {
		actions = []action.QueuedAction{}
	}
	return q.store.SetJSON(ctx, QueueKey, blob{Version: blobVersion, Actions: actions})
}

func sortActions(actions []action.QueuedAction) {
	slices.SortStableFunc(actions, func(a, b action.QueuedAction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func indexOf(actions []action.QueuedAction, id string) int {
	return slices.IndexFunc(actions, func(a action.QueuedAction) bool { return a.ID == id })
}
