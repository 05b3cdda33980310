package tourpack

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bucket is a coarse freshness class.
type Bucket string

const (
	Fresh Bucket = "fresh"
	Stale Bucket = "stale"
	Old   Bucket = "old"
)

// Thresholds are the inclusive upper ages of the fresh and stale buckets.
type Thresholds struct {
	Fresh time.Duration
	Stale time.Duration
}

// DefaultThresholds: fresh up to 15 minutes, stale up to 24 hours.
var DefaultThresholds = Thresholds{Fresh: 15 * time.Minute, Stale: 24 * time.Hour}

func (t Thresholds) withDefaults() Thresholds {
	if t.Fresh <= 0 {
		t.Fresh = DefaultThresholds.Fresh
	}
	if t.Stale <= 0 {
		t.Stale = DefaultThresholds.Stale
	}
	return t
}

// Classify buckets lastSyncedAt relative to now. A nil timestamp is Old.
// Timestamps in the future count as Fresh.
func Classify(lastSyncedAt *time.Time, now time.Time, th Thresholds) Bucket {
	if lastSyncedAt == nil {
		return Old
	}
	th = th.withDefaults()
	age := now.Sub(*lastSyncedAt)
	switch {
	case age <= th.Fresh:
		return Fresh
	case age <= th.Stale:
		return Stale
	default:
		return Old
	}
}

// ParseSyncedAt accepts RFC 3339 timestamps or Unix milliseconds.
func ParseSyncedAt(s string) (*time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t, true
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		return &t, true
	}
	return nil, false
}

// Label renders a human freshness string.
func Label(lastSyncedAt *time.Time, now time.Time) string {
	if lastSyncedAt == nil {
		return "Not synced yet"
	}
	age := now.Sub(*lastSyncedAt)
	switch {
	case age < time.Minute:
		return "Updated just now"
	case age < time.Hour:
		return fmt.Sprintf("Updated %d min ago", int(age/time.Minute))
	case age < 24*time.Hour:
		return fmt.Sprintf("Updated %dh ago", int(age/time.Hour))
	default:
		return "Cached data from yesterday"
	}
}
