package memdb

import (
	"context"
	"sync"
	"time"

	"grantdesk/internal/domain"
)

type LegacyRepository struct {
	mu   sync.Mutex
	rows []domain.LegacyReport
}

func NewLegacyRepository(rows ...domain.LegacyReport) *LegacyRepository {
	return &LegacyRepository{rows: rows}
}

func (l *LegacyRepository) Insert(ctx context.Context, row domain.LegacyReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, row)
	return nil
}

// LinkResubmissions links every unlinked legacy row of the subject and
// period that asked for a resubmission.
func (l *LegacyRepository) LinkResubmissions(ctx context.Context, subjectID string, period domain.Period, reportID string, linkedAt time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0)
	for i, row := range l.rows {
		if row.SubjectID != subjectID || row.Year != period.Year || row.Month != period.Month {
			continue
		}
		if !row.ResubmissionRequested || row.LinkedReportID != "" {
			continue
		}
		at := linkedAt.UTC()
		l.rows[i].LinkedReportID = reportID
		l.rows[i].Superseded = true
		l.rows[i].LinkedAt = &at
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (l *LegacyRepository) ListBySubjectPeriod(ctx context.Context, subjectID string, period domain.Period) ([]domain.LegacyReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LegacyReport, 0)
	for _, row := range l.rows {
		if row.SubjectID == subjectID && row.Year == period.Year && row.Month == period.Month {
			out = append(out, row)
		}
	}
	return out, nil
}
