// Package memdb keeps reports, jobs, documents and audit events in process
// memory. It backs the server when no database is configured and is the
// store used by service tests.
package memdb

import (
	"sync"

	"grantdesk/internal/domain"
)

// Store guards every table with one mutex so multi-row updates are atomic
// the way the database transactions are.
type Store struct {
	mu       sync.Mutex
	reports  map[string]domain.Report
	byKey    map[domain.ReportKey]string
	payloads map[string]domain.ReportPayload
	jobs     map[string]domain.GenerationJob
	jobOrder []string
	docs     map[string]domain.GeneratedDocument
}

func NewStore() *Store {
	return &Store{
		reports:  map[string]domain.Report{},
		byKey:    map[domain.ReportKey]string{},
		payloads: map[string]domain.ReportPayload{},
		jobs:     map[string]domain.GenerationJob{},
		docs:     map[string]domain.GeneratedDocument{},
	}
}

func (s *Store) Reports() *ReportRepository {
	return &ReportRepository{s: s}
}

func (s *Store) Jobs() *JobRepository {
	return &JobRepository{s: s}
}

func (s *Store) Documents() *DocumentRepository {
	return &DocumentRepository{s: s}
}
