package memdb

import (
	"context"
	"sync"

	"grantdesk/internal/domain"
)

type DirectoryRepository struct {
	mu       sync.RWMutex
	orgs     map[string]domain.Organization
	projects map[string]domain.Project
	subjects map[string]domain.Subject
}

func NewDirectoryRepository() *DirectoryRepository {
	return &DirectoryRepository{
		orgs:     map[string]domain.Organization{},
		projects: map[string]domain.Project{},
		subjects: map[string]domain.Subject{},
	}
}

func (d *DirectoryRepository) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.projects[projectID]
	if !ok {
		return domain.Project{}, domain.ErrNotFound
	}
	return p, nil
}

func (d *DirectoryRepository) GetOrganization(ctx context.Context, organizationID string) (domain.Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.orgs[organizationID]
	if !ok {
		return domain.Organization{}, domain.ErrNotFound
	}
	return o, nil
}

func (d *DirectoryRepository) GetSubject(ctx context.Context, subjectID string) (domain.Subject, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.subjects[subjectID]
	if !ok {
		return domain.Subject{}, domain.ErrNotFound
	}
	return s, nil
}

func (d *DirectoryRepository) UpsertOrganization(ctx context.Context, org domain.Organization) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgs[org.ID] = org
	return nil
}

func (d *DirectoryRepository) UpsertProject(ctx context.Context, p domain.Project) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projects[p.ID] = p
	return nil
}

func (d *DirectoryRepository) UpsertSubject(ctx context.Context, s domain.Subject) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subjects[s.ID] = s
	return nil
}
