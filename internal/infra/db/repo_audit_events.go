package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grantdesk/internal/domain"
	cryptoinfra "grantdesk/internal/infra/crypto"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditEventRepository struct {
	db *gorm.DB
}

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// Append adds an event to its organization's chain. The chain head row is
// locked for the duration so sequence numbers stay gapless.
func (r *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	if event.ID == "" {
		event.ID = newUUID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	if event.EventType == "" {
		return domain.AuditEvent{}, errors.New("event_type is required")
	}
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
	event.PayloadHash = cryptoinfra.HashHex(payloadJSON)

	var out domain.AuditEvent
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, prevHash, err := nextAuditSeq(ctx, tx, event.OrganizationID)
		if err != nil {
			return err
		}
		event.Seq = seq
		event.PrevEventHash = prevHash

		eventHash, err := cryptoinfra.AuditEventHash(event)
		if err != nil {
			return err
		}
		event.EventHash = eventHash

		model := auditEventModelFromDomain(event, payloadJSON)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		out = event
		out.Payload = payloadJSON
		return nil
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return out, nil
}

func (r *AuditEventRepository) ListByOrganization(ctx context.Context, organizationID string) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if organizationID == "" {
		organizationID = domain.AuditSystemOrganizationID
	}
	var models []AuditEventModel
	if err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		// jsonb does not keep key order or spacing.
		canonical, err := cryptoinfra.CanonicalJSON(model.PayloadJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, auditEventFromModel(model, canonical))
	}
	return out, nil
}

func nextAuditSeq(ctx context.Context, tx *gorm.DB, organizationID string) (int64, string, error) {
	if err := tx.WithContext(ctx).Exec(
		"INSERT INTO organization_audit_seq (organization_id, seq) VALUES (?, 0) ON CONFLICT (organization_id) DO NOTHING",
		organizationID,
	).Error; err != nil {
		return 0, "", err
	}

	var currentSeq int64
	if err := tx.WithContext(ctx).Raw(
		"SELECT seq FROM organization_audit_seq WHERE organization_id = ? FOR UPDATE",
		organizationID,
	).Scan(&currentSeq).Error; err != nil {
		return 0, "", err
	}
	nextSeq := currentSeq + 1
	if err := tx.WithContext(ctx).Exec(
		"UPDATE organization_audit_seq SET seq = ? WHERE organization_id = ?",
		nextSeq,
		organizationID,
	).Error; err != nil {
		return 0, "", err
	}

	prevHash := cryptoinfra.ZeroAuditHash
	if currentSeq > 0 {
		var prev AuditEventModel
		if err := tx.WithContext(ctx).
			Where("organization_id = ? AND seq = ?", organizationID, currentSeq).
			Take(&prev).Error; err != nil {
			return 0, "", err
		}
		prevHash = prev.EventHash
	}
	if prevHash == "" {
		return 0, "", fmt.Errorf("missing previous event hash for organization %s", organizationID)
	}
	return nextSeq, prevHash, nil
}

func auditEventModelFromDomain(event domain.AuditEvent, payloadJSON []byte) AuditEventModel {
	return AuditEventModel{
		ID:             event.ID,
		OrganizationID: event.OrganizationID,
		Seq:            event.Seq,
		EventType:      string(event.EventType),
		PayloadJSON:    datatypes.JSON(payloadJSON),
		PayloadHash:    event.PayloadHash,
		ActorType:      string(event.ActorType),
		ActorIDHash:    stringPtrIfNotEmpty(event.ActorIDHash),
		TargetType:     string(event.TargetType),
		TargetID:       stringPtrIfNotEmpty(event.TargetID),
		Result:         string(event.Result),
		ErrorCode:      stringPtrIfNotEmpty(event.ErrorCode),
		PrevEventHash:  event.PrevEventHash,
		EventHash:      event.EventHash,
		CreatedAt:      event.CreatedAt.UTC(),
	}
}

func auditEventFromModel(model AuditEventModel, payloadJSON []byte) domain.AuditEvent {
	return domain.AuditEvent{
		ID:             model.ID,
		OrganizationID: model.OrganizationID,
		Seq:            model.Seq,
		EventType:      domain.AuditEventType(model.EventType),
		Payload:        payloadJSON,
		PayloadHash:    model.PayloadHash,
		ActorType:      domain.AuditActorType(model.ActorType),
		ActorIDHash:    stringValue(model.ActorIDHash),
		TargetType:     domain.AuditTargetType(model.TargetType),
		TargetID:       stringValue(model.TargetID),
		Result:         domain.AuditResult(model.Result),
		ErrorCode:      stringValue(model.ErrorCode),
		PrevEventHash:  model.PrevEventHash,
		EventHash:      model.EventHash,
		CreatedAt:      model.CreatedAt.UTC(),
	}
}
