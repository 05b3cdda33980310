package queue

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/toursync/internal/kv"
)

// ProcessedKey is the storage key of the processed-id list.
const ProcessedKey = "processed_action_ids_v1"

// DefaultProcessedCap bounds the processed-id list.
const DefaultProcessedCap = 500

// ProcessedSet records ids of actions that were delivered. It keeps at most
// cap ids and evicts the oldest first.
//
// Thread-safety: ProcessedSet is safe for concurrent use.
type ProcessedSet struct {
	store  *kv.Provider
	cap    int
	logger *slog.Logger

	mu sync.Mutex
}

func newProcessedSet(store *kv.Provider, capacity int, logger *slog.Logger) *ProcessedSet {
	if capacity <= 0 {
		capacity = DefaultProcessedCap
	}
	return &ProcessedSet{store: store, cap: capacity, logger: logger}
}

// Contains reports whether id was recorded.
func (s *ProcessedSet) Contains(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.load(ctx), id)
}

// Add records id, evicting the oldest ids beyond the cap. Adding an id
// already present is a no-op.
func (s *ProcessedSet) Add(ctx context.Context, id string) error {
	if id == "" {
		return &Error{Code: ErrCodeInvalidAction, Message: "processed id is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.load(ctx)
	if slices.Contains(ids, id) {
		return nil
	}
	ids = append(ids, id)
	if over := len(ids) - s.cap; over > 0 {
		ids = ids[over:]
	}
	return s.store.SetJSON(ctx, ProcessedKey, ids)
}

// List returns the recorded ids, oldest first.
func (s *ProcessedSet) List(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Cap returns the maximum number of ids kept.
func (s *ProcessedSet) Cap() int { return s.cap }

func (s *ProcessedSet) load(ctx context.Context) []string {
	var ids []string
	if _, err := s.store.GetJSON(ctx, ProcessedKey, &ids); err != nil {
		if errors.Is(err, kv.ErrCorrupt) {
			s.logger.Warn("processed id list corrupt, resetting", "error", err)
		}
		return nil
	}
	return ids
}
