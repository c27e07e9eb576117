package db

import (
	"context"
	"time"

	"grantdesk/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateOrGetProcessing inserts a processing job unless the report already
// has one, in which case the existing job is returned with created=false.
func (r *JobRepository) CreateOrGetProcessing(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, bool, error) {
	if r.db == nil {
		return domain.GenerationJob{}, false, errDBUnavailable
	}
	if job.ID == "" {
		job.ID = newUUID()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	job.Status = domain.JobProcessing
	model := jobModelFromDomain(job)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return domain.GenerationJob{}, false, mapError(res.Error)
	}
	if res.RowsAffected == 1 {
		return jobFromModel(model), true, nil
	}

	var existing GenerationJobModel
	if err := r.db.WithContext(ctx).
		Where("report_id = ? AND status = ?", job.ReportID, string(domain.JobProcessing)).
		Take(&existing).Error; err != nil {
		return domain.GenerationJob{}, false, mapError(err)
	}
	return jobFromModel(existing), false, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (domain.GenerationJob, error) {
	if r.db == nil {
		return domain.GenerationJob{}, errDBUnavailable
	}
	id, err := normalizeID(id)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	var model GenerationJobModel
	if err := r.db.WithContext(ctx).Take(&model, "id = ?", id).Error; err != nil {
		return domain.GenerationJob{}, mapError(err)
	}
	return jobFromModel(model), nil
}

func (r *JobRepository) ListProcessing(ctx context.Context) ([]domain.GenerationJob, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []GenerationJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.JobProcessing)).
		Order("started_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.GenerationJob, 0, len(models))
	for _, m := range models {
		out = append(out, jobFromModel(m))
	}
	return out, nil
}

func (r *JobRepository) ListByReport(ctx context.Context, reportID string) ([]domain.GenerationJob, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []GenerationJobModel
	if err := r.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("started_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.GenerationJob, 0, len(models))
	for _, m := range models {
		out = append(out, jobFromModel(m))
	}
	return out, nil
}

func (r *JobRepository) RecordAttempt(ctx context.Context, id string, attempt int) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Model(&GenerationJobModel{}).
		Where("id = ? AND status = ? AND attempts < ?", id, string(domain.JobProcessing), attempt).
		Update("attempts", attempt).Error
}

// MarkFailed moves a processing job to error. It reports false when the job
// had already finished.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, message string, finishedAt time.Time) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&GenerationJobModel{}).
		Where("id = ? AND status = ?", id, string(domain.JobProcessing)).
		Updates(map[string]any{
			"status":        string(domain.JobError),
			"error_message": message,
			"finished_at":   finishedAt.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func jobModelFromDomain(j domain.GenerationJob) GenerationJobModel {
	return GenerationJobModel{
		ID:           j.ID,
		ReportID:     j.ReportID,
		Status:       string(j.Status),
		ErrorMessage: stringPtrIfNotEmpty(j.ErrorMessage),
		DocumentID:   stringPtrIfNotEmpty(j.DocumentID),
		RequestedBy:  j.RequestedBy,
		Attempts:     j.Attempts,
		StartedAt:    j.StartedAt.UTC(),
		FinishedAt:   j.FinishedAt,
	}
}

func jobFromModel(m GenerationJobModel) domain.GenerationJob {
	return domain.GenerationJob{
		ID:           m.ID,
		ReportID:     m.ReportID,
		Status:       domain.JobStatus(m.Status),
		ErrorMessage: stringValue(m.ErrorMessage),
		DocumentID:   stringValue(m.DocumentID),
		RequestedBy:  m.RequestedBy,
		Attempts:     m.Attempts,
		StartedAt:    m.StartedAt.UTC(),
		FinishedAt:   utcPtr(m.FinishedAt),
	}
}
