package action

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)

func TestQueuedAction_JSONKeepsTypedPayload(t *testing.T) {
	next := created.Add(2 * time.Minute)
	a := QueuedAction{
		ID:            "a1",
		Type:          TypeManifestStatus,
		EntityID:      "tour-1",
		CreatedAt:     created,
		Payload:       ManifestStatus{PassengerID: "p9", Status: "boarded"},
		Attempts:      1,
		Status:        StatusQueued,
		LastError:     "timeout",
		NextAttemptAt: &next,
		LastUpdatedAt: created,
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":{"passengerId":"p9","status":"boarded"}`)
	assert.Contains(t, string(data), `"entityId":"tour-1"`)

	var back QueuedAction
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ManifestStatus{PassengerID: "p9", Status: "boarded"}, back.Payload)
	require.NotNil(t, back.NextAttemptAt)
	assert.True(t, next.Equal(*back.NextAttemptAt))
}

func TestQueuedAction_UnknownTypeStaysOpaque(t *testing.T) {
	data := []byte(`{"id":"a2","type":"photo_upload","entityId":"tour-1","createdAt":"2026-05-04T08:30:00Z",
		"payload":{"assetId":"x1","bytes":12},"attempts":0,"status":"queued","lastUpdatedAt":"2026-05-04T08:30:00Z"}`)

	var a QueuedAction
	require.NoError(t, json.Unmarshal(data, &a))

	opaque, ok := a.Payload.(Opaque)
	require.True(t, ok)
	assert.Equal(t, Type("photo_upload"), opaque.Kind())
	assert.JSONEq(t, `{"assetId":"x1","bytes":12}`, string(opaque.Raw))

	// Re-encoding forwards the body verbatim
	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"payload":{"assetId":"x1","bytes":12}`)
}

func TestQueuedAction_MalformedKnownPayloadStaysOpaque(t *testing.T) {
	data := []byte(`{"id":"a3","type":"checkin","entityId":"tour-1","createdAt":"2026-05-04T08:30:00Z",
		"payload":{"lat":"north"},"attempts":0,"status":"queued","lastUpdatedAt":"2026-05-04T08:30:00Z"}`)

	var a QueuedAction
	require.NoError(t, json.Unmarshal(data, &a))
	_, ok := a.Payload.(Opaque)
	assert.True(t, ok)
}

func TestQueuedAction_Clone(t *testing.T) {
	next := created
	a := QueuedAction{ID: "a1", NextAttemptAt: &next}

	c := a.Clone()
	*c.NextAttemptAt = created.Add(time.Hour)

	assert.Equal(t, created, *a.NextAttemptAt)
}

func TestQueuedAction_BackoffPending(t *testing.T) {
	a := QueuedAction{}
	assert.False(t, a.BackoffPending(created))

	next := created.Add(time.Minute)
	a.NextAttemptAt = &next
	assert.True(t, a.BackoffPending(created))
	assert.False(t, a.BackoffPending(next))
	assert.False(t, a.BackoffPending(next.Add(time.Second)))
}

func TestQueuedAction_AttemptsSinceRetry(t *testing.T) {
	a := QueuedAction{Attempts: 7, RetryBase: 5}
	assert.Equal(t, 2, a.AttemptsSinceRetry())
}

func TestInput_Validate(t *testing.T) {
	valid := Input{ID: "a1", Type: TypeChatMessage, EntityID: "tour-1", Payload: ChatMessage{MessageID: "m1", Body: "hi"}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		mut  func(*Input)
		want error
	}{
		{"missing id", func(in *Input) { in.ID = "" }, ErrMissingID},
		{"missing type", func(in *Input) { in.Type = "" }, ErrMissingType},
		{"missing entity", func(in *Input) { in.EntityID = "" }, ErrMissingEntityID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mut(&in)
			assert.ErrorIs(t, in.Validate(), tt.want)
		})
	}

	mismatch := valid
	mismatch.Type = TypeCheckin
	err := mismatch.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	noPayload := valid
	noPayload.Payload = nil
	assert.NoError(t, noPayload.Validate())
}
