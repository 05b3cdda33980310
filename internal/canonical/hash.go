package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainAction separates action identity hashes from any other hash use.
// The version suffix enables future algorithm migration.
const DomainAction = "toursync/action/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionID derives an idempotency key from the action's type, target entity
// and payload. Enqueueing the same intent twice yields the same id, so the
// queue collapses it into one entry.
func ActionID(actionType, entityID string, payload any) (string, error) {
	data, err := Marshal(map[string]any{
		"type":      actionType,
		"entity_id": entityID,
		"payload":   payload,
	})
	if err != nil {
		return "", fmt.Errorf("ActionID: %w", err)
	}
	return "act_" + hashWithDomain(DomainAction, data)[:32], nil
}

// MustActionID is like ActionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustActionID(actionType, entityID string, payload any) string {
	id, err := ActionID(actionType, entityID, payload)
	if err != nil {
		panic(err)
	}
	return id
}
