package queue

import (
	"context"
	"time"

	"github.com/roach88/toursync/internal/action"
)

// Stats counts queued actions by status. Pending is the number in
// status queued.
type Stats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Backlog is the number of actions not yet delivered.
func (s Stats) Backlog() int { return s.Pending + s.Syncing + s.Failed }

// Thresholds bound the Health checks. Each warning fires when its value is
// strictly greater than the threshold.
type Thresholds struct {
	MaxFailed        int
	MaxPendingAge    time.Duration
	MaxSkippedFailed int
}

// DefaultThresholds are used for zero fields.
var DefaultThresholds = Thresholds{
	MaxFailed:        3,
	MaxPendingAge:    30 * time.Minute,
	MaxSkippedFailed: 5,
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MaxFailed <= 0 {
		t.MaxFailed = DefaultThresholds.MaxFailed
	}
	if t.MaxPendingAge <= 0 {
		t.MaxPendingAge = DefaultThresholds.MaxPendingAge
	}
	if t.MaxSkippedFailed <= 0 {
		t.MaxSkippedFailed = DefaultThresholds.MaxSkippedFailed
	}
	return t
}

// Warning names one health condition.
type Warning string

const (
	WarnFailedBacklog Warning = "failed_backlog"
	WarnStaleBacklog  Warning = "stale_backlog"
	WarnSkippedFailed Warning = "skipped_failed"
)

// Health is Stats plus backlog age and composite warnings.
type Health struct {
	Stats
	OldestPendingAt  *time.Time   `json:"oldestPendingAt,omitempty"`
	OldestPendingAge time.Duration `json:"oldestPendingAgeNs"`
	SkippedFailed    int           `json:"skippedFailed"`
	Warnings         []Warning     `json:"warnings"`
}

// Healthy reports whether no warning fired.
func (h Health) Healthy() bool { return len(h.Warnings) == 0 }

// Stats counts the stored actions by status.
func (q *Queue) Stats(ctx context.Context) Stats {
	return computeStats(q.List(ctx))
}

// Health computes Stats, the age of the oldest queued action and warnings.
// skippedFailed is the number of failed actions the last replay pass
// skipped.
func (q *Queue) Health(ctx context.Context, skippedFailed int) Health {
	actions := q.List(ctx)
	now := q.clock.Now()

	h := Health{
		Stats:         computeStats(actions),
		SkippedFailed: skippedFailed,
		Warnings:      []Warning{},
	}
	for _, a := range actions {
		if a.Status != action.StatusQueued {
			continue
		}
		created := a.CreatedAt
		h.OldestPendingAt = &created
		if age := now.Sub(created); age > 0 {
			h.OldestPendingAge = age
		}
		break
	}

	if h.Failed > q.thresholds.MaxFailed {
		h.Warnings = append(h.Warnings, WarnFailedBacklog)
	}
	if h.OldestPendingAge > q.thresholds.MaxPendingAge {
		h.Warnings = append(h.Warnings, WarnStaleBacklog)
	}
	if skippedFailed > q.thresholds.MaxSkippedFailed {
		h.Warnings = append(h.Warnings, WarnSkippedFailed)
	}
	return h
}

func computeStats(actions []action.QueuedAction) Stats {
	s := Stats{Total: len(actions)}
	for _, a := range actions {
		switch a.Status {
		case action.StatusSyncing:
			s.Syncing++
		case action.StatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}
