package legacydb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("LEGACY_POSTGRES_DSN is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect legacy postgres: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// EnsureSchema creates the legacy table when it does not exist yet. Existing
// deployments already have it; the statement is a no-op there.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.Pool == nil {
		return fmt.Errorf("legacy db not configured")
	}
	_, err := s.Pool.Exec(ctx, schemaSQL)
	return err
}

func (s *Store) Close() {
	if s == nil || s.Pool == nil {
		return
	}
	s.Pool.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS legacy_reports (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	year INT NOT NULL,
	month INT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	resubmission_requested BOOLEAN NOT NULL DEFAULT FALSE,
	linked_report_id TEXT,
	superseded BOOLEAN NOT NULL DEFAULT FALSE,
	linked_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_legacy_reports_subject_period
	ON legacy_reports (subject_id, year, month);
`
