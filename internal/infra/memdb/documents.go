package memdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"grantdesk/internal/domain"

	"github.com/google/uuid"
)

type DocumentRepository struct {
	s *Store
}

func (d *DocumentRepository) NextVersion(ctx context.Context, reportID string) (int, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	current := 0
	for _, doc := range d.s.docs {
		if doc.ReportID == reportID && doc.Version > current {
			current = doc.Version
		}
	}
	return current + 1, nil
}

// Complete records the document, supersedes earlier ones, sets the report
// hash and finishes the job, or changes nothing.
func (d *DocumentRepository) Complete(ctx context.Context, doc domain.GeneratedDocument, finishedAt time.Time) (domain.GeneratedDocument, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	report, ok := d.s.reports[doc.ReportID]
	if !ok {
		return domain.GeneratedDocument{}, domain.ErrNotFound
	}
	if report.Status == domain.StatusCancelled {
		return domain.GeneratedDocument{}, domain.ErrReportCancelled
	}
	if !report.Status.Generatable() {
		return domain.GeneratedDocument{}, fmt.Errorf("%w: report status %s does not accept documents", domain.ErrInvalidTransition, report.Status)
	}
	job, ok := d.s.jobs[doc.JobID]
	if !ok || job.Status != domain.JobProcessing {
		return domain.GeneratedDocument{}, fmt.Errorf("%w: job %s is no longer processing", domain.ErrConflict, doc.JobID)
	}

	finishedAt = finishedAt.UTC()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = finishedAt
	}
	doc.SupersededAt = nil
	for id, other := range d.s.docs {
		if other.ReportID == doc.ReportID && other.SupersededAt == nil {
			at := finishedAt
			other.SupersededAt = &at
			d.s.docs[id] = other
		}
	}
	d.s.docs[doc.ID] = doc

	report.PDFSHA256 = doc.ContentHash
	report.UpdatedAt = finishedAt
	d.s.reports[report.ID] = report

	job.Status = domain.JobSuccess
	job.DocumentID = doc.ID
	job.FinishedAt = &finishedAt
	d.s.jobs[job.ID] = job
	return doc, nil
}

func (d *DocumentRepository) GetByID(ctx context.Context, id string) (domain.GeneratedDocument, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	doc, ok := d.s.docs[id]
	if !ok {
		return domain.GeneratedDocument{}, domain.ErrNotFound
	}
	return doc, nil
}

// Current returns the report's non-superseded document.
func (d *DocumentRepository) Current(ctx context.Context, reportID string) (domain.GeneratedDocument, error) {
	docs, err := d.ListByReport(ctx, reportID)
	if err != nil {
		return domain.GeneratedDocument{}, err
	}
	for i := len(docs) - 1; i >= 0; i-- {
		if docs[i].Current() {
			return docs[i], nil
		}
	}
	return domain.GeneratedDocument{}, domain.ErrNotFound
}

func (d *DocumentRepository) ListByReport(ctx context.Context, reportID string) ([]domain.GeneratedDocument, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	out := make([]domain.GeneratedDocument, 0)
	for _, doc := range d.s.docs {
		if doc.ReportID == reportID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
