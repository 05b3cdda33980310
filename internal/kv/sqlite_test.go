package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_Pragmas(t *testing.T) {
	s := createTestSQLite(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(context.Background(), "k", []byte("v")))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestSQLiteBackend_CRUD(t *testing.T) {
	ctx := context.Background()
	s := createTestSQLite(t)

	require.NoError(t, s.Available(ctx))

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "queue:queue_v1", []byte(`{"version":1}`)))
	require.NoError(t, s.Set(ctx, "queue:queue_v1", []byte(`{"version":1,"actions":[]}`)))

	got, err := s.Get(ctx, "queue:queue_v1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"actions":[]}`, string(got))

	require.NoError(t, s.Delete(ctx, "queue:queue_v1"))
	_, err = s.Get(ctx, "queue:queue_v1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op
	require.NoError(t, s.Delete(ctx, "queue:queue_v1"))
}

func TestSQLiteBackend_EmptyValue(t *testing.T) {
	ctx := context.Background()
	s := createTestSQLite(t)

	require.NoError(t, s.Set(ctx, "k", nil))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteBackend_ClosedIsUnavailable(t *testing.T) {
	s := createTestSQLite(t)
	require.NoError(t, s.Close())

	assert.Error(t, s.Available(context.Background()))
}
