package crypto

import (
	"errors"
	"time"

	"grantdesk/internal/domain"
)

// ZeroAuditHash is the previous hash of the first event in a chain.
const ZeroAuditHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEventHash hashes the chain fields of an event in canonical form.
func AuditEventHash(event domain.AuditEvent) (string, error) {
	if event.PayloadHash == "" {
		return "", errors.New("payload_hash is required")
	}
	if event.PrevEventHash == "" {
		return "", errors.New("prev_event_hash is required")
	}
	canonical, err := CanonicalizeValue(map[string]any{
		"v":               domain.AuditChainVersion,
		"organization_id": event.OrganizationID,
		"seq":             event.Seq,
		"event_type":      string(event.EventType),
		"payload_hash":    event.PayloadHash,
		"prev_event_hash": event.PrevEventHash,
		"created_at":      event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	return HashHex(canonical), nil
}

// AuditHasher exposes the chain hashing to code that verifies stored events.
type AuditHasher struct{}

func (AuditHasher) PayloadHash(canonicalPayload []byte) string {
	return HashHex(canonicalPayload)
}

func (AuditHasher) EventHash(event domain.AuditEvent) (string, error) {
	return AuditEventHash(event)
}

func (AuditHasher) GenesisHash() string {
	return ZeroAuditHash
}
