package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/toursync/internal/action"
)

// AssertionError is returned when an assertion fails.
// It includes the applier log to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Applied  []string // Applier calls for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\nApplier calls:\n")
	for i, id := range e.Applied {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, id)
	}
	return buf.String()
}

func (h *Harness) evaluate(ctx context.Context, a Assertion, result *Result) error {
	switch a.Type {
	case AssertApplyOrder:
		return assertApplyOrder(result.Applied, a)
	case AssertApplyCount:
		return assertApplyCount(result.Applied, a)
	case AssertActionState:
		return h.assertActionState(ctx, a, result.Applied)
	case AssertActionAbsent:
		if _, ok := h.queue.Get(ctx, a.ID); ok {
			return &AssertionError{Type: a.Type, Expected: a.ID + " not queued", Actual: "still queued", Applied: result.Applied}
		}
		return nil
	case AssertStats:
		return h.assertStats(ctx, a, result.Applied)
	case AssertWatermark:
		set := h.engine.LastSuccessAt(ctx) != nil
		if set != *a.Advanced {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("watermark set = %t", *a.Advanced),
				Actual:   fmt.Sprintf("watermark set = %t", set),
				Applied:  result.Applied,
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertApplyOrder checks that ids were first applied in the given
// relative order. Other calls may sit in between.
func assertApplyOrder(applied []string, a Assertion) error {
	positions := make(map[string]int, len(a.IDs))
	for i, id := range applied {
		if _, seen := positions[id]; !seen {
			positions[id] = i
		}
	}

	last := -1
	for _, id := range a.IDs {
		pos, ok := positions[id]
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("order %v", a.IDs),
				Actual:   fmt.Sprintf("%s never applied", id),
				Applied:  applied,
			}
		}
		if pos < last {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("order %v", a.IDs),
				Actual:   fmt.Sprintf("%s applied out of order", id),
				Applied:  applied,
			}
		}
		last = pos
	}
	return nil
}

func assertApplyCount(applied []string, a Assertion) error {
	n := 0
	for _, id := range applied {
		if id == a.ID {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s applied %d times", a.ID, a.Count),
			Actual:   fmt.Sprintf("applied %d times", n),
			Applied:  applied,
		}
	}
	return nil
}

func (h *Harness) assertActionState(ctx context.Context, a Assertion, applied []string) error {
	qa, ok := h.queue.Get(ctx, a.ID)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: a.ID + " queued", Actual: "not found", Applied: applied}
	}
	return compareFields(a.Type, actionFields(qa), a.Expect, applied)
}

func (h *Harness) assertStats(ctx context.Context, a Assertion, applied []string) error {
	s := h.queue.Stats(ctx)
	actual := map[string]any{
		"pending": s.Pending,
		"syncing": s.Syncing,
		"failed":  s.Failed,
		"total":   s.Total,
	}
	return compareFields(a.Type, actual, a.Expect, applied)
}

func actionFields(qa action.QueuedAction) map[string]any {
	return map[string]any{
		"status":     string(qa.Status),
		"attempts":   qa.Attempts,
		"retry_base": qa.RetryBase,
		"last_error": qa.LastError,
		"backoff":    qa.NextAttemptAt != nil,
		"type":       string(qa.Type),
		"entity":     qa.EntityID,
	}
}

// compareFields is a subset match: only expected keys are checked, and
// values compare by their printed form so YAML ints match Go ints.
func compareFields(kind string, actual, expected map[string]any, applied []string) error {
	for _, key := range sortedKeys(expected) {
		got, ok := actual[key]
		if !ok {
			return fmt.Errorf("%s: unknown field %q", kind, key)
		}
		if fmt.Sprint(got) != fmt.Sprint(expected[key]) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s = %v", key, expected[key]),
				Actual:   fmt.Sprintf("%s = %v", key, got),
				Applied:  applied,
			}
		}
	}
	return nil
}
