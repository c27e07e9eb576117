package legacydb

import (
	"context"
	"fmt"
	"time"

	"grantdesk/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LegacyRepo struct {
	Pool *pgxpool.Pool
}

func NewLegacyRepo(pool *pgxpool.Pool) *LegacyRepo {
	return &LegacyRepo{Pool: pool}
}

// LinkResubmissions marks the subject's legacy records for the period that
// asked for resubmission as superseded by reportID. Records already linked
// are left alone, so repeated calls link nothing new.
func (r *LegacyRepo) LinkResubmissions(ctx context.Context, subjectID string, period domain.Period, reportID string, linkedAt time.Time) ([]string, error) {
	if r == nil || r.Pool == nil {
		return nil, fmt.Errorf("legacy db not configured")
	}
	query := `
UPDATE legacy_reports
SET linked_report_id = $4, superseded = TRUE, linked_at = $5
WHERE subject_id = $1 AND year = $2 AND month = $3
  AND resubmission_requested = TRUE
  AND linked_report_id IS NULL
RETURNING id`
	rows, err := r.Pool.Query(ctx, query, subjectID, period.Year, period.Month, reportID, linkedAt.UTC())
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *LegacyRepo) ListBySubjectPeriod(ctx context.Context, subjectID string, period domain.Period) ([]domain.LegacyReport, error) {
	if r == nil || r.Pool == nil {
		return nil, fmt.Errorf("legacy db not configured")
	}
	query := `
SELECT id, subject_id, year, month, body, resubmission_requested, linked_report_id, superseded, linked_at
FROM legacy_reports
WHERE subject_id = $1 AND year = $2 AND month = $3
ORDER BY id`
	rows, err := r.Pool.Query(ctx, query, subjectID, period.Year, period.Month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LegacyReport
	for rows.Next() {
		var (
			rec      domain.LegacyReport
			linkedID *string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SubjectID,
			&rec.Year,
			&rec.Month,
			&rec.Body,
			&rec.ResubmissionRequested,
			&linkedID,
			&rec.Superseded,
			&rec.LinkedAt,
		); err != nil {
			return nil, err
		}
		if linkedID != nil {
			rec.LinkedReportID = *linkedID
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *LegacyRepo) Insert(ctx context.Context, rec domain.LegacyReport) error {
	if r == nil || r.Pool == nil {
		return fmt.Errorf("legacy db not configured")
	}
	query := `
INSERT INTO legacy_reports (id, subject_id, year, month, body, resubmission_requested, linked_report_id, superseded, linked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	var linkedID *string
	if rec.LinkedReportID != "" {
		linkedID = &rec.LinkedReportID
	}
	_, err := r.Pool.Exec(ctx, query,
		rec.ID,
		rec.SubjectID,
		rec.Year,
		rec.Month,
		rec.Body,
		rec.ResubmissionRequested,
		linkedID,
		rec.Superseded,
		rec.LinkedAt,
	)
	return err
}
