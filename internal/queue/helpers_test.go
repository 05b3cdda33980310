package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/toursync/internal/action"
	"github.com/roach88/toursync/internal/kv"
	"github.com/roach88/toursync/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type validatorFunc func(action.Type, json.RawMessage) error

func (f validatorFunc) Validate(t action.Type, raw json.RawMessage) error { return f(t, raw) }

func newTestQueue(t *testing.T, opts Options) (*Queue, *kv.Provider, *testutil.FakeClock) {
	t.Helper()
	p := kv.New(context.Background(), kv.Options{Namespace: "queue"})
	clk := testutil.NewFakeClock(t0)
	if opts.Clock == nil {
		opts.Clock = clk
	}
	return New(p, opts), p, clk
}

func manifestInput(id string, created time.Time) action.Input {
	return action.Input{
		ID:        id,
		Type:      action.TypeManifestStatus,
		EntityID:  "tour-1",
		CreatedAt: created,
		Payload:   action.ManifestStatus{PassengerID: "p-" + id, Status: "boarded"},
	}
}

func mustEnqueue(t *testing.T, q *Queue, in action.Input) action.QueuedAction {
	t.Helper()
	qa, err := q.Enqueue(context.Background(), in)
	require.NoError(t, err)
	return qa
}

func ids(actions []action.QueuedAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}
