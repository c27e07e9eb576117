package usecase

import (
	"context"
	"errors"
	"fmt"

	"grantdesk/internal/domain"
)

// AuditChainHasher is the hashing audit repositories apply on append.
type AuditChainHasher interface {
	PayloadHash(canonicalPayload []byte) string
	EventHash(event domain.AuditEvent) (string, error)
	GenesisHash() string
}

// VerifyOrganizationAuditChain walks an organization's audit events in
// sequence order and checks every link and hash.
func VerifyOrganizationAuditChain(ctx context.Context, repo AuditEventRepository, hasher AuditChainHasher, organizationID string) error {
	if repo == nil {
		return errors.New("audit repository required")
	}
	if hasher == nil {
		return errors.New("audit hasher required")
	}
	if organizationID == "" {
		organizationID = domain.AuditSystemOrganizationID
	}
	events, err := repo.ListByOrganization(ctx, organizationID)
	if err != nil {
		return err
	}

	expectedSeq := int64(1)
	prevHash := hasher.GenesisHash()
	for _, event := range events {
		if event.OrganizationID != organizationID {
			return fmt.Errorf("audit chain organization mismatch at seq %d", event.Seq)
		}
		if event.Seq != expectedSeq {
			return fmt.Errorf("audit chain seq mismatch: expected %d got %d", expectedSeq, event.Seq)
		}
		if event.PrevEventHash != prevHash {
			return fmt.Errorf("audit chain prev hash mismatch at seq %d", event.Seq)
		}
		payloadJSON, err := payloadBytes(event.Payload)
		if err != nil {
			return fmt.Errorf("audit chain payload decode failed at seq %d: %w", event.Seq, err)
		}
		if hasher.PayloadHash(payloadJSON) != event.PayloadHash {
			return fmt.Errorf("audit chain payload hash mismatch at seq %d", event.Seq)
		}
		if event.CreatedAt.IsZero() {
			return fmt.Errorf("audit chain missing created_at at seq %d", event.Seq)
		}
		expectedHash, err := hasher.EventHash(event)
		if err != nil {
			return fmt.Errorf("audit chain hash compute failed at seq %d: %w", event.Seq, err)
		}
		if expectedHash != event.EventHash {
			return fmt.Errorf("audit chain hash mismatch at seq %d", event.Seq)
		}
		prevHash = event.EventHash
		expectedSeq++
	}
	return nil
}

func payloadBytes(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("payload_json must be []byte")
	}
}
