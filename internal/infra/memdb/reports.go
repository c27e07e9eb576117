package memdb

import (
	"context"
	"fmt"
	"time"

	"grantdesk/internal/domain"

	"github.com/google/uuid"
)

type ReportRepository struct {
	s *Store
}

func (r *ReportRepository) CreateIfAbsent(ctx context.Context, report domain.Report) (domain.Report, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.byKey[report.Key()]; ok {
		return r.s.reports[id], false, nil
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	r.s.reports[report.ID] = report
	r.s.byKey[report.Key()] = report.ID
	r.s.payloads[report.ID] = domain.ReportPayload{ReportID: report.ID, Deliverables: []string{}}
	return report, true, nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id string) (domain.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	report, ok := r.s.reports[id]
	if !ok {
		return domain.Report{}, domain.ErrNotFound
	}
	return report, nil
}

func (r *ReportRepository) GetPayload(ctx context.Context, reportID string) (domain.ReportPayload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payload, ok := r.s.payloads[reportID]
	if !ok {
		return domain.ReportPayload{}, domain.ErrNotFound
	}
	payload.Deliverables = append([]string{}, payload.Deliverables...)
	return payload, nil
}

func (r *ReportRepository) SavePayload(ctx context.Context, reportID string, payload domain.ReportPayload, savedAt time.Time) (domain.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	report, ok := r.s.reports[reportID]
	if !ok {
		return domain.Report{}, domain.ErrNotFound
	}
	if !report.Status.Editable() {
		return domain.Report{}, fmt.Errorf("%w: status %s", domain.ErrNotEditable, report.Status)
	}
	payload.ReportID = reportID
	payload.LastSavedAt = &savedAt
	payload.Deliverables = append([]string{}, payload.Deliverables...)
	r.s.payloads[reportID] = payload
	report.UpdatedAt = savedAt
	r.s.reports[reportID] = report
	return report, nil
}

// Transition applies fn to a copy of the report and stores it with the
// version bumped. expectedVersion of zero skips the version check.
func (r *ReportRepository) Transition(ctx context.Context, reportID string, expectedVersion int64, fn func(*domain.Report, domain.ReportPayload) error) (domain.Report, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.reports[reportID]
	if !ok {
		return domain.Report{}, domain.ErrNotFound
	}
	if expectedVersion > 0 && current.Version != expectedVersion {
		return domain.Report{}, fmt.Errorf("%w: report version is %d, expected %d", domain.ErrConflict, current.Version, expectedVersion)
	}
	next := current
	if err := fn(&next, r.s.payloads[reportID]); err != nil {
		return domain.Report{}, err
	}
	next.Version = current.Version + 1
	r.s.reports[reportID] = next
	return next, nil
}
