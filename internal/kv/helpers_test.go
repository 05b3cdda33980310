package kv

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

// createTestSQLite opens a SQLite backend in a temp dir.
func createTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var errBroken = errors.New("disk I/O error")

// flakyBackend fails every operation after failAfter successful calls.
// failAfter < 0 means the probe fails too.
type flakyBackend struct {
	mu        sync.Mutex
	inner     *MemoryBackend
	failAfter int
	calls     int
	panics    bool
}

func newFlakyBackend(failAfter int) *flakyBackend {
	return &flakyBackend{inner: NewMemoryBackend(), failAfter: failAfter}
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Available(context.Context) error {
	if f.failAfter < 0 {
		return errBroken
	}
	return nil
}

func (f *flakyBackend) tick() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls > f.failAfter {
		if f.panics {
			panic("native bridge crashed")
		}
		return errBroken
	}
	return nil
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := f.tick(); err != nil {
		return err
	}
	return f.inner.Set(ctx, key, value)
}

func (f *flakyBackend) Delete(ctx context.Context, key string) error {
	if err := f.tick(); err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

// fakeKeystore mimics a platform keystore.
type fakeKeystore struct {
	mu      sync.Mutex
	entries map[string]string
	broken  bool
}

func newFakeKeystore() *fakeKeystore {
	return &fakeKeystore{entries: make(map[string]string)}
}

func (k *fakeKeystore) StoreCredential(account, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.broken {
		return errors.New("keychain locked")
	}
	k.entries[account] = value
	return nil
}

func (k *fakeKeystore) GetCredential(account string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.broken {
		return "", errors.New("keychain locked")
	}
	v, ok := k.entries[account]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (k *fakeKeystore) DeleteCredential(account string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.broken {
		return errors.New("keychain locked")
	}
	if _, ok := k.entries[account]; !ok {
		return ErrNotFound
	}
	delete(k.entries, account)
	return nil
}
