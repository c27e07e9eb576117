package usecase

import (
	"context"
	"fmt"

	"grantdesk/internal/domain"

	"github.com/sirupsen/logrus"
)

// IntegrityService re-reads stored artifacts and checks them against the
// hash recorded when they were generated. Mismatches are never repaired.
type IntegrityService struct {
	Reports   ReportRepository
	Documents DocumentRepository
	Store     ArtifactStore
	Integrity IntegrityLayer
	Authz     Authorizer
	Audit     *AuditEmitter
	Log       logrus.FieldLogger
}

func (s *IntegrityService) Verify(ctx context.Context, principal domain.Principal, documentID string) (domain.GeneratedDocument, error) {
	doc, err := s.Documents.GetByID(ctx, documentID)
	if err != nil {
		return domain.GeneratedDocument{}, err
	}
	report, err := s.Reports.GetByID(ctx, doc.ReportID)
	if err != nil {
		return domain.GeneratedDocument{}, err
	}
	if err := authorize(ctx, s.Authz, principal, domain.ActionVerify, report); err != nil {
		return domain.GeneratedDocument{}, err
	}

	stored, err := s.Store.Get(ctx, doc.StoragePath)
	if err != nil {
		return domain.GeneratedDocument{}, fmt.Errorf("read artifact: %w", err)
	}
	valid, err := s.Integrity.Verify(stored, doc.ContentHash, doc.Encrypted)
	if err != nil {
		return domain.GeneratedDocument{}, fmt.Errorf("verify artifact: %w", err)
	}

	log := s.logger().WithFields(logrus.Fields{
		"report_id":   report.ID,
		"document_id": doc.ID,
		"version":     doc.Version,
	})
	if s.Audit != nil {
		if err := s.Audit.EmitVerification(ctx, principal.Actor(), report, doc, valid); err != nil {
			log.WithError(err).Error("failed to write audit event")
		}
	}
	if !valid {
		log.WithField("expected_hash", doc.ContentHash).Error("stored document does not match its recorded hash")
		return doc, fmt.Errorf("%w: document %s", domain.ErrIntegrityMismatch, doc.ID)
	}
	return doc, nil
}

func (s *IntegrityService) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log.WithField("component", "integrity")
	}
	return logrus.StandardLogger().WithField("component", "integrity")
}
