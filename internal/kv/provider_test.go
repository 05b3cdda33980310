package kv

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_EphemeralRuntimeForcesMemory(t *testing.T) {
	require.True(t, IsEphemeralRuntime(), "test binaries are ephemeral")

	s := createTestSQLite(t)
	p := New(context.Background(), Options{
		Namespace:  "queue",
		Candidates: []Backend{NewKeystoreBackend(newFakeKeystore()), s},
	})

	assert.Equal(t, "memory", p.Active())
	assert.False(t, p.Demoted())
}

func TestProvider_InjectedBackendWins(t *testing.T) {
	s := createTestSQLite(t)
	p := New(context.Background(), Options{Namespace: "queue", Backend: s})

	assert.Equal(t, "sqlite", p.Active())
}

func TestProvider_InjectedBackendUnavailableFallsBack(t *testing.T) {
	p := New(context.Background(), Options{Backend: newFlakyBackend(-1)})

	assert.Equal(t, "memory", p.Active())
}

func TestProvider_SelectFirstAvailable(t *testing.T) {
	ctx := context.Background()
	p := &Provider{fallback: NewMemoryBackend(), logger: slog.Default()}

	broken := newFakeKeystore()
	broken.broken = true
	s := createTestSQLite(t)

	// Test binaries skip candidates in New, so exercise selection directly.
	got := p.firstAvailable(ctx, []Backend{nil, NewKeystoreBackend(broken), s})
	assert.Equal(t, "sqlite", got.Name())

	got = p.firstAvailable(ctx, []Backend{NewKeystoreBackend(newFakeKeystore()), s})
	assert.Equal(t, "keystore", got.Name())

	got = p.firstAvailable(ctx, []Backend{NewKeystoreBackend(nil)})
	assert.Equal(t, "memory", got.Name())
}

func TestProvider_CandidatesWhenNotEphemeral(t *testing.T) {
	ctx := context.Background()
	never := func() bool { return false }
	s := createTestSQLite(t)

	p := New(ctx, Options{
		Namespace:  "queue",
		Candidates: []Backend{NewKeystoreBackend(nil), s},
		Ephemeral:  never,
	})
	assert.Equal(t, "sqlite", p.Active())

	p = New(ctx, Options{
		Namespace:  "auth",
		Candidates: []Backend{NewKeystoreBackend(newFakeKeystore()), s},
		Ephemeral:  never,
	})
	assert.Equal(t, "keystore", p.Active())

	p = New(ctx, Options{
		Candidates: []Backend{NewKeystoreBackend(nil)},
		Ephemeral:  never,
	})
	assert.Equal(t, "memory", p.Active())
}

func TestProvider_NamespacesIsolateKeys(t *testing.T) {
	ctx := context.Background()
	s := createTestSQLite(t)
	queue := New(ctx, Options{Namespace: "queue", Backend: s})
	packs := New(ctx, Options{Namespace: "tourpack", Backend: s})

	require.NoError(t, queue.Set(ctx, "last_success_at", []byte("q")))
	require.NoError(t, packs.Set(ctx, "last_success_at", []byte("p")))

	got, ok := queue.Get(ctx, "last_success_at")
	require.True(t, ok)
	assert.Equal(t, "q", string(got))

	raw, err := s.Get(ctx, "tourpack:last_success_at")
	require.NoError(t, err)
	assert.Equal(t, "p", string(raw))
}

func TestProvider_EmptyKey(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, Options{Namespace: "x"})

	assert.ErrorIs(t, p.Set(ctx, "", []byte("v")), ErrEmptyKey)
	assert.ErrorIs(t, p.Delete(ctx, ""), ErrEmptyKey)
	_, ok := p.Get(ctx, "")
	assert.False(t, ok)
}

func TestProvider_DemotesOnRuntimeFailure(t *testing.T) {
	ctx := context.Background()
	flaky := newFlakyBackend(1)
	p := New(ctx, Options{Namespace: "queue", Backend: flaky})
	require.Equal(t, "flaky", p.Active())

	// First call succeeds on the flaky backend
	require.NoError(t, p.Set(ctx, "a", []byte("1")))

	// Second call fails, provider demotes and serves from memory
	require.NoError(t, p.Set(ctx, "b", []byte("2")))
	assert.True(t, p.Demoted())
	assert.Equal(t, "memory", p.Active())

	got, ok := p.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, "2", string(got))

	// Data written before demotion is not visible in memory
	_, ok = p.Get(ctx, "a")
	assert.False(t, ok)
}

func TestProvider_AlwaysFailingBackendStillUsable(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, Options{Namespace: "queue", Backend: newFlakyBackend(0)})

	_, ok := p.Get(ctx, "missing")
	assert.False(t, ok)
	assert.True(t, p.Demoted())

	require.NoError(t, p.Set(ctx, "k", []byte("v")))
	got, ok := p.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))
	require.NoError(t, p.Delete(ctx, "k"))
}

func TestProvider_PanickingBackendDemotes(t *testing.T) {
	ctx := context.Background()
	flaky := newFlakyBackend(0)
	flaky.panics = true
	p := New(ctx, Options{Backend: flaky})

	require.NotPanics(t, func() {
		require.NoError(t, p.Set(ctx, "k", []byte("v")))
	})
	assert.True(t, p.Demoted())
}

func TestProvider_NotFoundDoesNotDemote(t *testing.T) {
	ctx := context.Background()
	s := createTestSQLite(t)
	p := New(ctx, Options{Backend: s})

	_, ok := p.Get(ctx, "missing")
	assert.False(t, ok)
	assert.False(t, p.Demoted())
	assert.Equal(t, "sqlite", p.Active())
}

func TestProvider_CancelledContextDoesNotDemote(t *testing.T) {
	s := createTestSQLite(t)
	p := New(context.Background(), Options{Backend: s})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Set(ctx, "k", []byte("v"))
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.False(t, p.Demoted())
}

func TestProvider_BatchOperations(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, Options{Namespace: "tourpack"})

	require.NoError(t, p.SetMany(ctx, map[string][]byte{
		"pack_t1_guide": []byte("a"),
		"meta_t1_guide": []byte("b"),
	}))

	got := p.GetMany(ctx, []string{"pack_t1_guide", "meta_t1_guide", "missing"})
	assert.Equal(t, map[string][]byte{
		"pack_t1_guide": []byte("a"),
		"meta_t1_guide": []byte("b"),
	}, got)

	require.NoError(t, p.DeleteMany(ctx, "pack_t1_guide", "meta_t1_guide"))
	assert.Empty(t, p.GetMany(ctx, []string{"pack_t1_guide", "meta_t1_guide"}))
}

func TestProvider_JSONHelpers(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, Options{Namespace: "queue"})

	type blob struct {
		Version int `json:"version"`
	}

	var out blob
	found, err := p.GetJSON(ctx, "queue_v1", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, p.SetJSON(ctx, "queue_v1", blob{Version: 1}))
	found, err = p.GetJSON(ctx, "queue_v1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, out.Version)

	require.NoError(t, p.Set(ctx, "queue_v1", []byte("{not json")))
	found, err = p.GetJSON(ctx, "queue_v1", &out)
	assert.True(t, found)
	assert.ErrorIs(t, err, ErrCorrupt)
}
