package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of mutation an action performs.
type Type string

const (
	// TypeManifestStatus changes a passenger's manifest status.
	TypeManifestStatus Type = "manifest_status"
	// TypeChatMessage sends a message to the tour chat.
	TypeChatMessage Type = "chat_message"
	// TypeCheckin records arrival at an itinerary stop.
	TypeCheckin Type = "checkin"
)

// KnownTypes lists the types with a concrete payload shape.
func KnownTypes() []Type {
	return []Type{TypeManifestStatus, TypeChatMessage, TypeCheckin}
}

// Status is the replay state of a queued action.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSyncing Status = "syncing"
	// StatusFailed is terminal; only an explicit re-queue retries it.
	StatusFailed Status = "failed"
)

// QueuedAction is one durable mutation intent awaiting delivery.
type QueuedAction struct {
	// ID is the caller-supplied idempotency key.
	ID        string
	Type      Type
	EntityID  string
	CreatedAt time.Time
	Payload   Payload

	// Attempts counts replay attempts and never decreases.
	Attempts int
	// RetryBase is the value of Attempts when the action was last re-queued
	// from failed. Attempt caps and backoff count from here.
	RetryBase int

	Status        Status
	LastError     string
	NextAttemptAt *time.Time
	LastUpdatedAt time.Time
}

// AttemptsSinceRetry returns the attempts made since the last re-queue.
func (a QueuedAction) AttemptsSinceRetry() int {
	return a.Attempts - a.RetryBase
}

// BackoffPending reports whether the backoff gate is still closed at now.
func (a QueuedAction) BackoffPending(now time.Time) bool {
	return a.NextAttemptAt != nil && a.NextAttemptAt.After(now)
}

// Clone returns a copy that shares no mutable state with a.
func (a QueuedAction) Clone() QueuedAction {
	c := a
	if a.NextAttemptAt != nil {
		t := *a.NextAttemptAt
		c.NextAttemptAt = &t
	}
	return c
}

// queuedActionJSON is the persisted shape of a QueuedAction.
type queuedActionJSON struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	EntityID      string          `json:"entityId"`
	CreatedAt     time.Time       `json:"createdAt"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	RetryBase     int             `json:"retryBase,omitempty"`
	Status        Status          `json:"status"`
	LastError     string          `json:"lastError,omitempty"`
	NextAttemptAt *time.Time      `json:"nextAttemptAt,omitempty"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`
}

// MarshalJSON encodes the action with its payload inline.
func (a QueuedAction) MarshalJSON() ([]byte, error) {
	payload, err := EncodePayload(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", a.ID, err)
	}
	return json.Marshal(queuedActionJSON{
		ID:            a.ID,
		Type:          a.Type,
		EntityID:      a.EntityID,
		CreatedAt:     a.CreatedAt,
		Payload:       payload,
		Attempts:      a.Attempts,
		RetryBase:     a.RetryBase,
		Status:        a.Status,
		LastError:     a.LastError,
		NextAttemptAt: a.NextAttemptAt,
		LastUpdatedAt: a.LastUpdatedAt,
	})
}

// UnmarshalJSON decodes the action. A payload that does not match its
// type's shape is kept as Opaque rather than failing the whole record.
func (a *QueuedAction) UnmarshalJSON(data []byte) error {
	var w queuedActionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		payload = Opaque{Type: w.Type, Raw: w.Payload}
	}
	*a = QueuedAction{
		ID:            w.ID,
		Type:          w.Type,
		EntityID:      w.EntityID,
		CreatedAt:     w.CreatedAt,
		Payload:       payload,
		Attempts:      w.Attempts,
		RetryBase:     w.RetryBase,
		Status:        w.Status,
		LastError:     w.LastError,
		NextAttemptAt: w.NextAttemptAt,
		LastUpdatedAt: w.LastUpdatedAt,
	}
	return nil
}

// Input is what a caller supplies to enqueue an action.
type Input struct {
	ID       string
	Type     Type
	EntityID string
	// CreatedAt defaults to the queue clock when zero.
	CreatedAt time.Time
	Payload   Payload
}

var (
	ErrMissingID       = errors.New("action id is required")
	ErrMissingType     = errors.New("action type is required")
	ErrMissingEntityID = errors.New("action entityId is required")
)

// Validate checks the required fields and that the payload matches the type.
func (in Input) Validate() error {
	switch {
	case in.ID == "":
		return ErrMissingID
	case in.Type == "":
		return ErrMissingType
	case in.EntityID == "":
		return ErrMissingEntityID
	}
	if in.Payload != nil && in.Payload.Kind() != in.Type {
		return fmt.Errorf("payload kind %q does not match action type %q", in.Payload.Kind(), in.Type)
	}
	return nil
}
