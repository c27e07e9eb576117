package db

import (
	"context"
	"fmt"
	"time"

	"grantdesk/internal/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) NextVersion(ctx context.Context, reportID string) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var current int
	if err := r.db.WithContext(ctx).
		Model(&GeneratedDocumentModel{}).
		Where("report_id = ?", reportID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&current).Error; err != nil {
		return 0, err
	}
	return current + 1, nil
}

// Complete records a generated document in one transaction: the report row
// is locked and re-checked, earlier documents are superseded, the report
// hash is set and the job is marked successful. Nothing is written unless
// every step succeeds.
func (r *DocumentRepository) Complete(ctx context.Context, doc domain.GeneratedDocument, finishedAt time.Time) (domain.GeneratedDocument, error) {
	if r.db == nil {
		return domain.GeneratedDocument{}, errDBUnavailable
	}
	if doc.ID == "" {
		doc.ID = newUUID()
	}
	finishedAt = finishedAt.UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = finishedAt
	}
	doc.SupersededAt = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		report, err := lockReport(tx, doc.ReportID)
		if err != nil {
			return err
		}
		status := domain.ReportStatus(report.Status)
		if status == domain.StatusCancelled {
			return domain.ErrReportCancelled
		}
		if !status.Generatable() {
			return fmt.Errorf("%w: report status %s does not accept documents", domain.ErrInvalidTransition, status)
		}

		model := documentModelFromDomain(doc)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Model(&GeneratedDocumentModel{}).
			Where("report_id = ? AND id <> ? AND superseded_at IS NULL", doc.ReportID, doc.ID).
			Update("superseded_at", finishedAt).Error; err != nil {
			return err
		}
		if err := tx.Model(&ReportModel{}).
			Where("id = ?", doc.ReportID).
			Updates(map[string]any{"pdf_sha256": doc.ContentHash, "updated_at": finishedAt}).Error; err != nil {
			return err
		}
		res := tx.Model(&GenerationJobModel{}).
			Where("id = ? AND status = ?", doc.JobID, string(domain.JobProcessing)).
			Updates(map[string]any{
				"status":      string(domain.JobSuccess),
				"document_id": doc.ID,
				"finished_at": finishedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: job %s is no longer processing", domain.ErrConflict, doc.JobID)
		}
		return nil
	})
	if err != nil {
		return domain.GeneratedDocument{}, mapError(err)
	}
	return doc, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (domain.GeneratedDocument, error) {
	if r.db == nil {
		return domain.GeneratedDocument{}, errDBUnavailable
	}
	id, err := normalizeID(id)
	if err != nil {
		return domain.GeneratedDocument{}, err
	}
	var model GeneratedDocumentModel
	if err := r.db.WithContext(ctx).Take(&model, "id = ?", id).Error; err != nil {
		return domain.GeneratedDocument{}, mapError(err)
	}
	return documentFromModel(model), nil
}

// Current returns the report's non-superseded document.
func (r *DocumentRepository) Current(ctx context.Context, reportID string) (domain.GeneratedDocument, error) {
	if r.db == nil {
		return domain.GeneratedDocument{}, errDBUnavailable
	}
	var model GeneratedDocumentModel
	if err := r.db.WithContext(ctx).
		Where("report_id = ? AND superseded_at IS NULL", reportID).
		Order("version DESC").
		Take(&model).Error; err != nil {
		return domain.GeneratedDocument{}, mapError(err)
	}
	return documentFromModel(model), nil
}

func (r *DocumentRepository) ListByReport(ctx context.Context, reportID string) ([]domain.GeneratedDocument, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []GeneratedDocumentModel
	if err := r.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("version ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.GeneratedDocument, 0, len(models))
	for _, m := range models {
		out = append(out, documentFromModel(m))
	}
	return out, nil
}

func documentModelFromDomain(d domain.GeneratedDocument) GeneratedDocumentModel {
	return GeneratedDocumentModel{
		ID:          d.ID,
		ReportID:    d.ReportID,
		Version:     d.Version,
		JobID:       d.JobID,
		StoragePath: d.StoragePath,
		ContentHash: d.ContentHash,
		Encrypted:   d.Encrypted,
		GeneratedBy: d.GeneratedBy,
		Metadata: datatypes.NewJSONType(DocumentMetadataJSON{
			PageCount:     d.Metadata.PageCount,
			PeriodLabel:   d.Metadata.PeriodLabel,
			ByteSize:      d.Metadata.ByteSize,
			StoredSize:    d.Metadata.StoredSize,
			HashAlgorithm: d.Metadata.HashAlgorithm,
		}),
		SupersededAt: d.SupersededAt,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

func documentFromModel(m GeneratedDocumentModel) domain.GeneratedDocument {
	meta := m.Metadata.Data()
	return domain.GeneratedDocument{
		ID:          m.ID,
		ReportID:    m.ReportID,
		JobID:       m.JobID,
		Version:     m.Version,
		StoragePath: m.StoragePath,
		ContentHash: m.ContentHash,
		Encrypted:   m.Encrypted,
		GeneratedBy: m.GeneratedBy,
		Metadata: domain.DocumentMetadata{
			PageCount:     meta.PageCount,
			PeriodLabel:   meta.PeriodLabel,
			ByteSize:      meta.ByteSize,
			StoredSize:    meta.StoredSize,
			HashAlgorithm: meta.HashAlgorithm,
		},
		SupersededAt: utcPtr(m.SupersededAt),
		CreatedAt:    m.CreatedAt.UTC(),
	}
}
