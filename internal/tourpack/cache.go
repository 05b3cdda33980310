// Package tourpack caches merged snapshots of tour data per (entity, role)
// for offline reads, with a separate metadata record for freshness checks.
package tourpack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/roach88/toursync/internal/clock"
	"github.com/roach88/toursync/internal/kv"
)

// SchemaVersion is stamped on every Meta record.
const SchemaVersion = 1

// ErrInvalidKey is returned when entityID or role is empty.
var ErrInvalidKey = errors.New("tourpack: entityId and role are required")

// Pack is the merged snapshot for one (entity, role).
type Pack struct {
	EntityID      string                     `json:"entityId"`
	Role          string                     `json:"role"`
	Data          map[string]json.RawMessage `json:"data"`
	FetchedAt     time.Time                  `json:"fetchedAt"`
	SourceVersion string                     `json:"sourceVersion,omitempty"`
}

// Meta is stored apart from the pack body.
type Meta struct {
	LastSyncedAt  time.Time `json:"lastSyncedAt"`
	SchemaVersion int       `json:"schemaVersion"`
}

// Freshness is the result of a metadata-only staleness check.
type Freshness struct {
	Bucket       Bucket     `json:"bucket"`
	Label        string     `json:"label"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// Options configures a Cache.
type Options struct {
	Clock      clock.Clock
	Logger     *slog.Logger
	Thresholds Thresholds
}

// Cache stores tour packs in a kv.Provider.
//
// Thread-safety: Cache is safe for concurrent use; saves are serialized.
type Cache struct {
	store      *kv.Provider
	clock      clock.Clock
	logger     *slog.Logger
	thresholds Thresholds

	mu sync.Mutex
}

// New returns a Cache stored in p.
func New(p *kv.Provider, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:      p,
		clock:      clock.OrSystem(opts.Clock),
		logger:     logger.With("component", "tourpack"),
		thresholds: opts.Thresholds.withDefaults(),
	}
}

// keyEscaper keeps "_" unambiguous as the separator between key parts, so
// ("tour_a", "guide") and ("tour", "a_guide") map to different keys.
var keyEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

func packKey(entityID, role string) string {
	return "pack_" + keyEscaper.Replace(entityID) + "_" + keyEscaper.Replace(role)
}

func metaKey(entityID, role string) string {
	return "meta_" + keyEscaper.Replace(entityID) + "_" + keyEscaper.Replace(role)
}

// Save shallow-merges fragment over the cached pack: keys in fragment
// replace their old values, other keys are kept. It stamps fetchedAt and
// sourceVersion, then updates Meta.
func (c *Cache) Save(ctx context.Context, entityID, role string, fragment map[string]json.RawMessage, sourceVersion string) (Pack, error) {
	if entityID == "" || role == "" {
		return Pack{}, ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pack, ok := c.load(ctx, entityID, role)
	if !ok {
		pack = Pack{EntityID: entityID, Role: role}
	}
	if pack.Data == nil {
		pack.Data = make(map[string]json.RawMessage, len(fragment))
	}
	maps.Copy(pack.Data, fragment)

	now := c.clock.Now()
	pack.FetchedAt = now
	pack.SourceVersion = sourceVersion

	if err := c.store.SetJSON(ctx, packKey(entityID, role), pack); err != nil {
		return Pack{}, fmt.Errorf("save tour pack: %w", err)
	}
	meta := Meta{LastSyncedAt: now, SchemaVersion: SchemaVersion}
	if err := c.store.SetJSON(ctx, metaKey(entityID, role), meta); err != nil {
		return Pack{}, fmt.Errorf("save tour pack meta: %w", err)
	}

	c.logger.Debug("tour pack saved", "entity", entityID, "role", role, "fields", len(fragment))
	return pack, nil
}

// SaveJSON is Save for a raw JSON object fragment.
func (c *Cache) SaveJSON(ctx context.Context, entityID, role string, fragment []byte, sourceVersion string) (Pack, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(fragment, &fields); err != nil {
		return Pack{}, fmt.Errorf("tour pack fragment must be a JSON object: %w", err)
	}
	return c.Save(ctx, entityID, role, fields, sourceVersion)
}

// Get returns the cached pack. A missing or corrupt pack reports ok=false.
func (c *Cache) Get(ctx context.Context, entityID, role string) (Pack, bool, error) {
	if entityID == "" || role == "" {
		return Pack{}, false, ErrInvalidKey
	}
	pack, ok := c.load(ctx, entityID, role)
	return pack, ok, nil
}

// GetMeta returns the metadata without reading the pack body.
func (c *Cache) GetMeta(ctx context.Context, entityID, role string) (Meta, bool, error) {
	if entityID == "" || role == "" {
		return Meta{}, false, ErrInvalidKey
	}
	var meta Meta
	found, err := c.store.GetJSON(ctx, metaKey(entityID, role), &meta)
	if err != nil {
		c.logger.Warn("tour pack meta corrupt", "entity", entityID, "role", role, "error", err)
		return Meta{}, false, nil
	}
	if !found || meta.LastSyncedAt.IsZero() {
		return Meta{}, false, nil
	}
	return meta, true, nil
}

// Freshness classifies the pack from its metadata alone.
func (c *Cache) Freshness(ctx context.Context, entityID, role string) (Freshness, error) {
	meta, ok, err := c.GetMeta(ctx, entityID, role)
	if err != nil {
		return Freshness{}, err
	}
	var last *time.Time
	if ok {
		last = &meta.LastSyncedAt
	}
	now := c.clock.Now()
	return Freshness{
		Bucket:       Classify(last, now, c.thresholds),
		Label:        Label(last, now),
		LastSyncedAt: last,
	}, nil
}

func (c *Cache) load(ctx context.Context, entityID, role string) (Pack, bool) {
	var pack Pack
	found, err := c.store.GetJSON(ctx, packKey(entityID, role), &pack)
	if err != nil {
		c.logger.Warn("tour pack corrupt, ignoring", "entity", entityID, "role", role, "error", err)
		return Pack{}, false
	}
	if !found {
		return Pack{}, false
	}
	if pack.EntityID != entityID || pack.Role != role {
		c.logger.Warn("tour pack belongs to another key, ignoring",
			"entity", entityID, "role", role, "stored_entity", pack.EntityID, "stored_role", pack.Role)
		return Pack{}, false
	}
	return pack, true
}
