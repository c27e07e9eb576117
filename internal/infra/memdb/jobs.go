package memdb

import (
	"context"
	"time"

	"grantdesk/internal/domain"

	"github.com/google/uuid"
)

type JobRepository struct {
	s *Store
}

// CreateOrGetProcessing returns the report's processing job when there is
// one, otherwise creates it.
func (j *JobRepository) CreateOrGetProcessing(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, bool, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	for _, id := range j.s.jobOrder {
		existing := j.s.jobs[id]
		if existing.ReportID == job.ReportID && existing.Status == domain.JobProcessing {
			return existing, false, nil
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.JobProcessing
	j.s.jobs[job.ID] = job
	j.s.jobOrder = append(j.s.jobOrder, job.ID)
	return job, true, nil
}

func (j *JobRepository) GetByID(ctx context.Context, id string) (domain.GenerationJob, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	job, ok := j.s.jobs[id]
	if !ok {
		return domain.GenerationJob{}, domain.ErrNotFound
	}
	return job, nil
}

func (j *JobRepository) ListProcessing(ctx context.Context) ([]domain.GenerationJob, error) {
	return j.list(func(job domain.GenerationJob) bool { return job.Status == domain.JobProcessing }), nil
}

func (j *JobRepository) ListByReport(ctx context.Context, reportID string) ([]domain.GenerationJob, error) {
	return j.list(func(job domain.GenerationJob) bool { return job.ReportID == reportID }), nil
}

func (j *JobRepository) list(match func(domain.GenerationJob) bool) []domain.GenerationJob {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	out := make([]domain.GenerationJob, 0)
	for _, id := range j.s.jobOrder {
		if job := j.s.jobs[id]; match(job) {
			out = append(out, job)
		}
	}
	return out
}

func (j *JobRepository) RecordAttempt(ctx context.Context, id string, attempt int) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	job, ok := j.s.jobs[id]
	if ok && job.Status == domain.JobProcessing && job.Attempts < attempt {
		job.Attempts = attempt
		j.s.jobs[id] = job
	}
	return nil
}

// MarkFailed moves a processing job to error and reports whether it did.
func (j *JobRepository) MarkFailed(ctx context.Context, id string, message string, finishedAt time.Time) (bool, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	job, ok := j.s.jobs[id]
	if !ok || job.Status != domain.JobProcessing {
		return false, nil
	}
	job.Status = domain.JobError
	job.ErrorMessage = message
	job.FinishedAt = &finishedAt
	j.s.jobs[id] = job
	return true, nil
}
