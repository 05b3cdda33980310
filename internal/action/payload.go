package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the type-specific body of an action.
type Payload interface {
	Kind() Type
}

// ManifestStatus sets one passenger's boarding status on a tour manifest.
type ManifestStatus struct {
	PassengerID string `json:"passengerId"`
	Status      string `json:"status"`
	Note        string `json:"note,omitempty"`
}

func (ManifestStatus) Kind() Type { return TypeManifestStatus }

// ChatMessage is a message posted to a tour's chat thread.
type ChatMessage struct {
	MessageID string    `json:"messageId"`
	ThreadID  string    `json:"threadId,omitempty"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sentAt"`
}

func (ChatMessage) Kind() Type { return TypeChatMessage }

// Checkin records the guide's arrival at an itinerary stop.
type Checkin struct {
	StopID string    `json:"stopId"`
	Lat    float64   `json:"lat"`
	Lng    float64   `json:"lng"`
	At     time.Time `json:"at"`
}

func (Checkin) Kind() Type { return TypeCheckin }

// Opaque carries a payload whose type this build does not know, verbatim.
type Opaque struct {
	Type Type
	Raw  json.RawMessage
}

func (o Opaque) Kind() Type { return o.Type }

// MarshalJSON emits the raw payload unchanged.
func (o Opaque) MarshalJSON() ([]byte, error) {
	if len(bytes.TrimSpace(o.Raw)) == 0 {
		return []byte("null"), nil
	}
	return o.Raw, nil
}

// EncodePayload renders p as JSON. A nil payload encodes as null.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// DecodePayload resolves raw into the concrete payload for t. Unknown types
// decode to Opaque. A known type whose body does not fit returns an error.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if isKnown(t) {
			return nil, nil
		}
		return Opaque{Type: t, Raw: raw}, nil
	}

	switch t {
	case TypeManifestStatus:
		return decodeInto[ManifestStatus](t, raw)
	case TypeChatMessage:
		return decodeInto[ChatMessage](t, raw)
	case TypeCheckin:
		return decodeInto[Checkin](t, raw)
	default:
		return Opaque{Type: t, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeInto[P Payload](t Type, raw json.RawMessage) (Payload, error) {
	var p P
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

func isKnown(t Type) bool {
	for _, k := range KnownTypes() {
		if k == t {
			return true
		}
	}
	return false
}
