package replay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/toursync/internal/action"
	"github.com/roach88/toursync/internal/kv"
	"github.com/roach88/toursync/internal/queue"
	"github.com/roach88/toursync/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine *Engine
	queue  *queue.Queue
	store  *kv.Provider
	clock  *testutil.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kv.New(context.Background(), kv.Options{Namespace: "sync"})
	clk := testutil.NewFakeClock(t0)
	q := queue.New(store, queue.Options{Clock: clk})
	return &fixture{
		engine: New(q, store, Options{Clock: clk}),
		queue:  q,
		store:  store,
		clock:  clk,
	}
}

func (f *fixture) enqueue(t *testing.T, id string, typ action.Type, offset time.Duration) {
	t.Helper()
	var p action.Payload
	switch typ {
	case action.TypeManifestStatus:
		p = action.ManifestStatus{PassengerID: "p-" + id, Status: "boarded"}
	case action.TypeChatMessage:
		p = action.ChatMessage{MessageID: "m-" + id, Body: "hello"}
	case action.TypeCheckin:
		p = action.Checkin{StopID: "s-" + id, Lat: 38.7, Lng: -9.1}
	}
	_, err := f.queue.Enqueue(context.Background(), action.Input{
		ID:        id,
		Type:      typ,
		EntityID:  "tour-1",
		CreatedAt: t0.Add(offset),
		Payload:   p,
	})
	require.NoError(t, err)
}

func (f *fixture) replay(t *testing.T, appliers Appliers) Result {
	t.Helper()
	res, err := f.engine.Replay(context.Background(), appliers)
	require.NoError(t, err)
	return res
}

// recorder is an applier that logs the ids it sees and fails ids listed in
// failures.
type recorder struct {
	mu       sync.Mutex
	seen     []string
	failures map[string]error
}

func newRecorder() *recorder {
	return &recorder{failures: map[string]error{}}
}

func (r *recorder) Apply(_ context.Context, a action.QueuedAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, a.ID)
	return r.failures[a.ID]
}

func (r *recorder) fail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = err
}

func (r *recorder) heal(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, id)
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func allTypes(ap Applier) Appliers {
	out := Appliers{}
	for _, typ := range action.KnownTypes() {
		out[typ] = ap
	}
	return out
}
