package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
)

// EphemeralEnv forces the memory backend when set to "1".
const EphemeralEnv = "TOURSYNC_EPHEMERAL"

// Options configures a Provider.
type Options struct {
	// Namespace prefixes every key ("queue", "tourpack", "auth", ...).
	Namespace string

	// Backend is an explicitly injected backend. It bypasses candidate
	// selection and ephemeral detection, but is still probed and still
	// demoted on failure.
	Backend Backend

	// Candidates are probed in order; the first available one wins.
	Candidates []Backend

	// Ephemeral reports whether candidate selection is skipped in favor of
	// memory. Defaults to IsEphemeralRuntime.
	Ephemeral func() bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Provider is a namespaced key/value store over one active Backend with a
// one-way fallback to memory. It never returns backend failures to callers.
//
// Thread-safety: Provider is safe for concurrent use.
type Provider struct {
	namespace string
	fallback  *MemoryBackend
	logger    *slog.Logger

	mu      sync.RWMutex
	active  Backend
	demoted bool
}

// IsEphemeralRuntime reports whether the process is a test binary or has
// TOURSYNC_EPHEMERAL=1 set.
func IsEphemeralRuntime() bool {
	return testing.Testing() || os.Getenv(EphemeralEnv) == "1"
}

// New selects the active backend and returns a ready Provider.
func New(ctx context.Context, opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{
		namespace: opts.Namespace,
		fallback:  NewMemoryBackend(),
		logger:    logger.With("namespace", opts.Namespace),
	}
	p.active = p.selectBackend(ctx, opts)
	p.logger.Debug("kv backend selected", "backend", p.active.Name())
	return p
}

func (p *Provider) selectBackend(ctx context.Context, opts Options) Backend {
	if opts.Backend != nil {
		if err := probe(ctx, opts.Backend); err != nil {
			p.logger.Error("injected kv backend unavailable, using memory", "backend", opts.Backend.Name(), "error", err)
			return p.fallback
		}
		return opts.Backend
	}

	ephemeral := opts.Ephemeral
	if ephemeral == nil {
		ephemeral = IsEphemeralRuntime
	}
	if ephemeral() {
		return p.fallback
	}

	return p.firstAvailable(ctx, opts.Candidates)
}

// firstAvailable returns the first candidate whose probe succeeds, or the
// memory fallback.
func (p *Provider) firstAvailable(ctx context.Context, candidates []Backend) Backend {
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		if err := probe(ctx, candidate); err != nil {
			p.logger.Debug("kv candidate unavailable", "backend", candidate.Name(), "error", err)
			continue
		}
		return candidate
	}
	return p.fallback
}

// Active returns the name of the backend currently serving requests.
func (p *Provider) Active() string {
	return p.current().Name()
}

// Demoted reports whether the provider has fallen back to memory after a
// runtime failure.
func (p *Provider) Demoted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.demoted
}

// Namespace returns the key prefix of this provider.
func (p *Provider) Namespace() string { return p.namespace }

// Get returns the value stored under key. A missing key, an empty key or a
// lost backend all report ok=false.
func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}

	var value []byte
	err := p.do(ctx, "get", key, func(b Backend) error {
		v, err := b.Get(ctx, p.fullKey(key))
		value = v
		return err
	})
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set stores value under key.
func (p *Provider) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return p.do(ctx, "set", key, func(b Backend) error {
		return b.Set(ctx, p.fullKey(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (p *Provider) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := p.do(ctx, "delete", key, func(b Backend) error {
		return b.Delete(ctx, p.fullKey(key))
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// GetMany returns the values of every key that is present.
func (p *Provider) GetMany(ctx context.Context, keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := p.Get(ctx, key); ok {
			out[key] = v
		}
	}
	return out
}

// SetMany stores every entry, stopping at the first input error.
func (p *Provider) SetMany(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := p.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMany removes every key.
func (p *Provider) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := p.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// GetJSON decodes the value under key into v. Returns found=false when the
// key is absent. A value that does not decode returns an error wrapping
// ErrCorrupt.
func (p *Provider) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, ok := p.Get(ctx, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func (p *Provider) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return p.Set(ctx, key, data)
}

func (p *Provider) fullKey(key string) string {
	if p.namespace == "" {
		return key
	}
	return p.namespace + ":" + key
}

func (p *Provider) current() Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// do runs fn against the active backend. Backend failures demote the
// provider to memory and rerun fn there. ErrNotFound and caller
// cancellation pass through untouched.
func (p *Provider) do(ctx context.Context, op, key string, fn func(Backend) error) error {
	b := p.current()
	err := guard(func() error { return fn(b) })
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if b == Backend(p.fallback) {
		return err
	}

	p.demote(b, op, key, err)
	return guard(func() error { return fn(p.fallback) })
}

func (p *Provider) demote(failed Backend, op, key string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != failed {
		return
	}
	p.logger.Error("kv backend failed, demoting to memory",
		"backend", failed.Name(),
		"op", op,
		"key", key,
		"error", cause,
	)
	p.active = p.fallback
	p.demoted = true
}

// probe runs Available with panic protection.
func probe(ctx context.Context, b Backend) error {
	return guard(func() error { return b.Available(ctx) })
}

// guard converts a panic inside fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return fn()
}
