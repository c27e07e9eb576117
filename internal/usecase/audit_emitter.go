package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"grantdesk/internal/domain"
)

type AuditEmitter struct {
	Repo  AuditEventRepository
	Clock Clock
}

func NewAuditEmitter(repo AuditEventRepository, clock Clock) *AuditEmitter {
	return &AuditEmitter{
		Repo:  repo,
		Clock: clock,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if e == nil || e.Repo == nil {
		return domain.AuditEvent{}, errors.New("audit repository required")
	}
	if event.EventType == "" || event.TargetType == "" || event.Result == "" || event.ActorType == "" {
		return domain.AuditEvent{}, errors.New("audit event missing required fields")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now().UTC()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	return e.Repo.Append(ctx, event)
}

// EmitReportTransition records a status change of a report.
func (e *AuditEmitter) EmitReportTransition(ctx context.Context, eventType domain.AuditEventType, actor domain.Actor, report domain.Report, extra map[string]any) error {
	payload := map[string]any{
		"report_id":  report.ID,
		"project_id": report.ProjectID,
		"period":     report.Period.Label(),
		"status":     string(report.Status),
		"version":    report.Version,
	}
	for k, v := range extra {
		payload[k] = v
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		OrganizationID: report.OrganizationID,
		ActorType:      actorType(actor),
		ActorIDHash:    hashString(actor.ID),
		EventType:      eventType,
		Payload:        payload,
		TargetType:     domain.AuditTargetReport,
		TargetID:       report.ID,
		Result:         domain.AuditResultSuccess,
	})
	return err
}

func (e *AuditEmitter) EmitDocumentGenerated(ctx context.Context, report domain.Report, doc domain.GeneratedDocument) error {
	_, err := e.Emit(ctx, domain.AuditEvent{
		OrganizationID: report.OrganizationID,
		ActorType:      domain.AuditActorSystem,
		ActorIDHash:    hashString(doc.GeneratedBy),
		EventType:      domain.AuditEventDocumentGenerated,
		Payload: map[string]any{
			"report_id":    report.ID,
			"job_id":       doc.JobID,
			"version":      doc.Version,
			"content_hash": doc.ContentHash,
			"encrypted":    doc.Encrypted,
		},
		TargetType: domain.AuditTargetDocument,
		TargetID:   doc.ID,
		Result:     domain.AuditResultSuccess,
	})
	return err
}

func (e *AuditEmitter) EmitGenerationFailed(ctx context.Context, report domain.Report, job domain.GenerationJob, errorCode string) error {
	_, err := e.Emit(ctx, domain.AuditEvent{
		OrganizationID: report.OrganizationID,
		ActorType:      domain.AuditActorSystem,
		ActorIDHash:    hashString(job.RequestedBy),
		EventType:      domain.AuditEventDocumentFailed,
		Payload: map[string]any{
			"report_id": report.ID,
			"job_id":    job.ID,
			"attempts":  job.Attempts,
		},
		TargetType: domain.AuditTargetJob,
		TargetID:   job.ID,
		Result:     domain.AuditResultFailure,
		ErrorCode:  errorCode,
	})
	return err
}

// EmitVerification records the outcome of an integrity check. A mismatch is
// recorded as its own event type so it can be alerted on.
func (e *AuditEmitter) EmitVerification(ctx context.Context, actor domain.Actor, report domain.Report, doc domain.GeneratedDocument, valid bool) error {
	eventType := domain.AuditEventDocumentVerified
	result := domain.AuditResultSuccess
	errorCode := ""
	if !valid {
		eventType = domain.AuditEventIntegrityMismatch
		result = domain.AuditResultFailure
		errorCode = "INTEGRITY_MISMATCH"
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		OrganizationID: report.OrganizationID,
		ActorType:      actorType(actor),
		ActorIDHash:    hashString(actor.ID),
		EventType:      eventType,
		Payload: map[string]any{
			"report_id":     report.ID,
			"document_id":   doc.ID,
			"version":       doc.Version,
			"expected_hash": doc.ContentHash,
		},
		TargetType: domain.AuditTargetDocument,
		TargetID:   doc.ID,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitLegacyLinked(ctx context.Context, report domain.Report, legacyIDs []string) error {
	ids := make([]any, 0, len(legacyIDs))
	for _, id := range legacyIDs {
		ids = append(ids, id)
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		OrganizationID: report.OrganizationID,
		ActorType:      domain.AuditActorSystem,
		EventType:      domain.AuditEventLegacyLinked,
		Payload: map[string]any{
			"report_id":  report.ID,
			"legacy_ids": ids,
		},
		TargetType: domain.AuditTargetReport,
		TargetID:   report.ID,
		Result:     domain.AuditResultSuccess,
	})
	return err
}

func (e *AuditEmitter) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func actorType(actor domain.Actor) domain.AuditActorType {
	if actor.Type == domain.ActorTypeSystem {
		return domain.AuditActorSystem
	}
	return domain.AuditActorUser
}

func hashString(value string) string {
	if value == "" {
		return ""
	}
	return sha256HexString([]byte(value))
}

func sha256HexString(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
