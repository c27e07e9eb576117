package memdb

import (
	"context"
	"errors"
	"sync"
	"time"

	"grantdesk/internal/domain"
	cryptoinfra "grantdesk/internal/infra/crypto"

	"github.com/google/uuid"
)

// AuditEventRepository chains events per organization with the same hashing
// as the postgres repository.
type AuditEventRepository struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	heads  map[string]domain.AuditEvent
}

func NewAuditEventRepository() *AuditEventRepository {
	return &AuditEventRepository{heads: map[string]domain.AuditEvent{}}
}

func (a *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if event.EventType == "" {
		return domain.AuditEvent{}, errors.New("event_type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	if event.OrganizationID == "" {
		event.OrganizationID = domain.AuditSystemOrganizationID
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	payloadJSON, err := cryptoinfra.CanonicalizeValue(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.Payload = payloadJSON
	event.PayloadHash = cryptoinfra.HashHex(payloadJSON)

	a.mu.Lock()
	defer a.mu.Unlock()
	event.Seq = 1
	event.PrevEventHash = cryptoinfra.ZeroAuditHash
	if head, ok := a.heads[event.OrganizationID]; ok {
		event.Seq = head.Seq + 1
		event.PrevEventHash = head.EventHash
	}
	if event.EventHash, err = cryptoinfra.AuditEventHash(event); err != nil {
		return domain.AuditEvent{}, err
	}
	a.events = append(a.events, event)
	a.heads[event.OrganizationID] = event
	return event, nil
}

func (a *AuditEventRepository) ListByOrganization(ctx context.Context, organizationID string) ([]domain.AuditEvent, error) {
	if organizationID == "" {
		organizationID = domain.AuditSystemOrganizationID
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditEvent, 0)
	for _, event := range a.events {
		if event.OrganizationID == organizationID {
			out = append(out, event)
		}
	}
	return out, nil
}

// Mutate rewrites stored events in place. It exists for tamper tests.
func (a *AuditEventRepository) Mutate(fn func(events []domain.AuditEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.events)
}
