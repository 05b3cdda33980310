package status

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSyncOutcome_NormalizesCounts(t *testing.T) {
	s := NewSyncSummary(11.7, math.NaN(), nil, nil, "")
	assert.Equal(t, "11 synced / 0 pending / 0 failed", FormatSyncOutcome(s))
}

func TestFormatSyncOutcome_ClampsNegatives(t *testing.T) {
	s := SyncSummary{SyncedCount: 3, PendingCount: -2, FailedCount: 1}
	assert.Equal(t, "3 synced / 0 pending / 1 failed", FormatSyncOutcome(s))
}

func TestCount(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{11.7, 11},
		{-0.5, 0},
		{-4, 0},
		{7, 7},
		{int64(9), 9},
		{float32(2.9), 2},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{nil, 0},
		{"5.9", 5},
		{"many", 0},
		{json.Number("12"), 12},
		{true, 0},
		{3e9, 3000000000},
		{1e300, math.MaxInt},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Count(tt.in), "Count(%#v)", tt.in)
	}
}

func TestParseSource(t *testing.T) {
	assert.Equal(t, SourceReplay, ParseSource("replay"))
	assert.Equal(t, SourceManual, ParseSource("manual"))
	assert.Equal(t, SourceUnknown, ParseSource("push"))
	assert.Equal(t, SourceUnknown, ParseSource(""))
}

func TestSyncSummary_UnmarshalLooseJSON(t *testing.T) {
	var s SyncSummary
	err := json.Unmarshal([]byte(`{
		"syncedCount": 11.7,
		"pendingCount": "NaN",
		"failedCount": null,
		"lastSuccessAt": "2026-03-14T09:00:00Z",
		"source": "carrier-pigeon"
	}`), &s)
	require.NoError(t, err)

	assert.Equal(t, 11, s.SyncedCount)
	assert.Equal(t, 0, s.PendingCount)
	assert.Equal(t, 0, s.FailedCount)
	require.NotNil(t, s.LastSuccessAt)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), *s.LastSuccessAt)
	assert.Equal(t, SourceUnknown, s.Source)
}

func TestSyncSummary_UnmarshalBadTimestamp(t *testing.T) {
	var s SyncSummary
	require.NoError(t, json.Unmarshal([]byte(`{"lastSuccessAt":"yesterday","source":"replay"}`), &s))
	assert.Nil(t, s.LastSuccessAt)
	assert.Equal(t, SourceReplay, s.Source)
}
