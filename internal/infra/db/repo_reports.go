package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grantdesk/internal/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// CreateIfAbsent inserts the report and an empty payload unless a report
// with the same key exists, then returns whatever row holds the key.
func (r *ReportRepository) CreateIfAbsent(ctx context.Context, report domain.Report) (domain.Report, bool, error) {
	if r.db == nil {
		return domain.Report{}, false, errDBUnavailable
	}
	if report.ID == "" {
		report.ID = newUUID()
	}
	model := reportModelFromDomain(report)
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "subject_id"},
				{Name: "project_id"},
				{Name: "year"},
				{Name: "month"},
			},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		payload := ReportPayloadModel{
			ReportID:     model.ID,
			Deliverables: datatypes.JSON("[]"),
			UpdatedAt:    model.CreatedAt,
		}
		return tx.Create(&payload).Error
	})
	if err != nil {
		return domain.Report{}, false, mapError(err)
	}

	var stored ReportModel
	if err := r.db.WithContext(ctx).
		Where("subject_id = ? AND project_id = ? AND year = ? AND month = ?",
			report.SubjectID, report.ProjectID, report.Period.Year, report.Period.Month).
		Take(&stored).Error; err != nil {
		return domain.Report{}, false, mapError(err)
	}
	return reportFromModel(stored), created, nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id string) (domain.Report, error) {
	if r.db == nil {
		return domain.Report{}, errDBUnavailable
	}
	id, err := normalizeID(id)
	if err != nil {
		return domain.Report{}, err
	}
	var model ReportModel
	if err := r.db.WithContext(ctx).Take(&model, "id = ?", id).Error; err != nil {
		return domain.Report{}, mapError(err)
	}
	return reportFromModel(model), nil
}

func (r *ReportRepository) GetPayload(ctx context.Context, reportID string) (domain.ReportPayload, error) {
	if r.db == nil {
		return domain.ReportPayload{}, errDBUnavailable
	}
	reportID, err := normalizeID(reportID)
	if err != nil {
		return domain.ReportPayload{}, err
	}
	return loadPayload(r.db.WithContext(ctx), reportID)
}

// SavePayload overwrites the payload while holding the report row lock.
func (r *ReportRepository) SavePayload(ctx context.Context, reportID string, payload domain.ReportPayload, savedAt time.Time) (domain.Report, error) {
	if r.db == nil {
		return domain.Report{}, errDBUnavailable
	}
	reportID, err := normalizeID(reportID)
	if err != nil {
		return domain.Report{}, err
	}
	var out domain.Report
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockReport(tx, reportID)
		if err != nil {
			return err
		}
		if !domain.ReportStatus(locked.Status).Editable() {
			return fmt.Errorf("%w: status %s", domain.ErrNotEditable, locked.Status)
		}
		payload.ReportID = reportID
		payload.LastSavedAt = &savedAt
		model, err := payloadModelFromDomain(payload, savedAt)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "report_id"}},
			UpdateAll: true,
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Model(&ReportModel{}).
			Where("id = ?", reportID).
			Update("updated_at", savedAt).Error; err != nil {
			return err
		}
		locked.UpdatedAt = savedAt
		out = reportFromModel(locked)
		return nil
	})
	if err != nil {
		return domain.Report{}, mapError(err)
	}
	return out, nil
}

// Transition locks the report row, hands the current state to fn and
// persists the result with the version bumped. expectedVersion of zero skips
// the optimistic check; the row lock still serializes callers.
func (r *ReportRepository) Transition(ctx context.Context, reportID string, expectedVersion int64, fn func(*domain.Report, domain.ReportPayload) error) (domain.Report, error) {
	if r.db == nil {
		return domain.Report{}, errDBUnavailable
	}
	reportID, err := normalizeID(reportID)
	if err != nil {
		return domain.Report{}, err
	}
	var out domain.Report
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockReport(tx, reportID)
		if err != nil {
			return err
		}
		if expectedVersion > 0 && locked.Version != expectedVersion {
			return fmt.Errorf("%w: report version is %d, expected %d", domain.ErrConflict, locked.Version, expectedVersion)
		}
		payload, err := loadPayload(tx, reportID)
		if err != nil {
			return err
		}
		report := reportFromModel(locked)
		if err := fn(&report, payload); err != nil {
			return err
		}
		report.Version = locked.Version + 1
		report.UpdatedAt = time.Now().UTC()

		next := reportModelFromDomain(report)
		res := tx.Model(&ReportModel{}).
			Where("id = ? AND version = ?", reportID, locked.Version).
			Select("*").
			Omit("id", "subject_id", "project_id", "year", "month", "organization_id", "created_at", "pdf_sha256").
			Updates(&next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		out = report
		return nil
	})
	if err != nil {
		return domain.Report{}, mapError(err)
	}
	return out, nil
}

func lockReport(tx *gorm.DB, reportID string) (ReportModel, error) {
	var model ReportModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&model, "id = ?", reportID).Error; err != nil {
		return ReportModel{}, err
	}
	return model, nil
}

func loadPayload(tx *gorm.DB, reportID string) (domain.ReportPayload, error) {
	var model ReportPayloadModel
	err := tx.Take(&model, "report_id = ?", reportID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ReportPayload{ReportID: reportID, Deliverables: []string{}}, nil
	}
	if err != nil {
		return domain.ReportPayload{}, err
	}
	return payloadFromModel(model)
}

func reportModelFromDomain(r domain.Report) ReportModel {
	return ReportModel{
		ID:              r.ID,
		SubjectID:       r.SubjectID,
		ProjectID:       r.ProjectID,
		Year:            r.Period.Year,
		Month:           r.Period.Month,
		OrganizationID:  r.OrganizationID,
		Status:          string(r.Status),
		Version:         r.Version,
		SubmittedAt:     r.SubmittedAt,
		SubmittedBy:     stringPtrIfNotEmpty(r.SubmittedBy),
		LockedAt:        r.LockedAt,
		ReviewStartedAt: r.ReviewStartedAt,
		ReviewStartedBy: stringPtrIfNotEmpty(r.ReviewStartedBy),
		ApprovedAt:      r.ApprovedAt,
		ApprovedBy:      stringPtrIfNotEmpty(r.ApprovedBy),
		ReturnedAt:      r.ReturnedAt,
		ReturnedBy:      stringPtrIfNotEmpty(r.ReturnedBy),
		CancelledAt:     r.CancelledAt,
		CancelledBy:     stringPtrIfNotEmpty(r.CancelledBy),
		ReturnReason:    stringPtrIfNotEmpty(r.ReturnReason),
		PDFSHA256:       stringPtrIfNotEmpty(r.PDFSHA256),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func reportFromModel(m ReportModel) domain.Report {
	return domain.Report{
		ID:              m.ID,
		SubjectID:       m.SubjectID,
		ProjectID:       m.ProjectID,
		OrganizationID:  m.OrganizationID,
		Period:          domain.Period{Year: m.Year, Month: m.Month},
		Status:          domain.ReportStatus(m.Status),
		Version:         m.Version,
		SubmittedAt:     utcPtr(m.SubmittedAt),
		SubmittedBy:     stringValue(m.SubmittedBy),
		LockedAt:        utcPtr(m.LockedAt),
		ReviewStartedAt: utcPtr(m.ReviewStartedAt),
		ReviewStartedBy: stringValue(m.ReviewStartedBy),
		ApprovedAt:      utcPtr(m.ApprovedAt),
		ApprovedBy:      stringValue(m.ApprovedBy),
		ReturnedAt:      utcPtr(m.ReturnedAt),
		ReturnedBy:      stringValue(m.ReturnedBy),
		CancelledAt:     utcPtr(m.CancelledAt),
		CancelledBy:     stringValue(m.CancelledBy),
		ReturnReason:    stringValue(m.ReturnReason),
		PDFSHA256:       stringValue(m.PDFSHA256),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func payloadModelFromDomain(p domain.ReportPayload, updatedAt time.Time) (ReportPayloadModel, error) {
	deliverables := p.Deliverables
	if deliverables == nil {
		deliverables = []string{}
	}
	raw, err := json.Marshal(deliverables)
	if err != nil {
		return ReportPayloadModel{}, err
	}
	return ReportPayloadModel{
		ReportID:     p.ReportID,
		Activities:   p.Activities,
		Results:      p.Results,
		Difficulties: p.Difficulties,
		NextSteps:    p.NextSteps,
		Remarks:      p.Remarks,
		Hours:        p.Hours,
		Deliverables: datatypes.JSON(raw),
		LastSavedAt:  p.LastSavedAt,
		UpdatedAt:    updatedAt.UTC(),
	}, nil
}

func payloadFromModel(m ReportPayloadModel) (domain.ReportPayload, error) {
	deliverables := []string{}
	if len(m.Deliverables) > 0 {
		if err := json.Unmarshal(m.Deliverables, &deliverables); err != nil {
			return domain.ReportPayload{}, fmt.Errorf("decode deliverables: %w", err)
		}
	}
	return domain.ReportPayload{
		ReportID:     m.ReportID,
		Activities:   m.Activities,
		Results:      m.Results,
		Difficulties: m.Difficulties,
		NextSteps:    m.NextSteps,
		Remarks:      m.Remarks,
		Hours:        m.Hours,
		Deliverables: deliverables,
		LastSavedAt:  utcPtr(m.LastSavedAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
