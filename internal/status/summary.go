package status

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Source says which trigger produced a summary.
type Source string

const (
	SourceReplay     Source = "replay"
	SourceManual     Source = "manual"
	SourceBackground Source = "background"
	SourceStartup    Source = "startup"
	SourceUnknown    Source = "unknown"
)

// ParseSource maps unrecognized values to SourceUnknown.
func ParseSource(s string) Source {
	switch src := Source(s); src {
	case SourceReplay, SourceManual, SourceBackground, SourceStartup:
		return src
	}
	return SourceUnknown
}

// SyncSummary reports the outcome of one sync run.
type SyncSummary struct {
	SyncedCount   int        `json:"syncedCount"`
	PendingCount  int        `json:"pendingCount"`
	FailedCount   int        `json:"failedCount"`
	LastSuccessAt *time.Time `json:"lastSuccessAt"`
	Source        Source     `json:"source"`
}

// NewSyncSummary builds a summary from loosely typed input. Counts go
// through Count and source through ParseSource.
func NewSyncSummary(synced, pending, failed any, lastSuccessAt *time.Time, source string) SyncSummary {
	return SyncSummary{
		SyncedCount:   Count(synced),
		PendingCount:  Count(pending),
		FailedCount:   Count(failed),
		LastSuccessAt: lastSuccessAt,
		Source:        ParseSource(source),
	}
}

// Normalize clamps counts at zero and maps unknown sources.
func (s SyncSummary) Normalize() SyncSummary {
	s.SyncedCount = max(s.SyncedCount, 0)
	s.PendingCount = max(s.PendingCount, 0)
	s.FailedCount = max(s.FailedCount, 0)
	s.Source = ParseSource(string(s.Source))
	return s
}

// UnmarshalJSON accepts any JSON for the counts and normalizes them.
func (s *SyncSummary) UnmarshalJSON(data []byte) error {
	var raw struct {
		SyncedCount   any    `json:"syncedCount"`
		PendingCount  any    `json:"pendingCount"`
		FailedCount   any    `json:"failedCount"`
		LastSuccessAt any    `json:"lastSuccessAt"`
		Source        string `json:"source"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var last *time.Time
	if str, ok := raw.LastSuccessAt.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
			last = &t
		}
	}
	*s = NewSyncSummary(raw.SyncedCount, raw.PendingCount, raw.FailedCount, last, raw.Source)
	return nil
}

// Count converts v to a non-negative integer, truncating toward zero.
// NaN, infinities, nil, negatives and non-numeric values give 0. Values
// beyond the range of int saturate at math.MaxInt.
func Count(v any) int {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case float32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt {
		return math.MaxInt
	}
	return int(math.Trunc(f))
}

// FormatSyncOutcome renders "N synced / N pending / N failed".
func FormatSyncOutcome(s SyncSummary) string {
	s = s.Normalize()
	return fmt.Sprintf("%d synced / %d pending / %d failed", s.SyncedCount, s.PendingCount, s.FailedCount)
}
