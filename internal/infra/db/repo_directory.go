package db

import (
	"context"
	"time"

	"grantdesk/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DirectoryRepository reads the organization, project and subject records
// that other services own. Upserts exist for seeding and tests.
type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	if r.db == nil {
		return domain.Project{}, errDBUnavailable
	}
	var m ProjectModel
	if err := r.db.WithContext(ctx).Take(&m, "id = ?", projectID).Error; err != nil {
		return domain.Project{}, mapError(err)
	}
	return domain.Project{ID: m.ID, Code: m.Code, Title: m.Title, OrganizationID: m.OrganizationID}, nil
}

func (r *DirectoryRepository) GetOrganization(ctx context.Context, organizationID string) (domain.Organization, error) {
	if r.db == nil {
		return domain.Organization{}, errDBUnavailable
	}
	var m OrganizationModel
	if err := r.db.WithContext(ctx).Take(&m, "id = ?", organizationID).Error; err != nil {
		return domain.Organization{}, mapError(err)
	}
	return domain.Organization{ID: m.ID, Name: m.Name, HeaderLine: m.HeaderLine, AccentColor: m.AccentColor}, nil
}

func (r *DirectoryRepository) GetSubject(ctx context.Context, subjectID string) (domain.Subject, error) {
	if r.db == nil {
		return domain.Subject{}, errDBUnavailable
	}
	var m SubjectModel
	if err := r.db.WithContext(ctx).Take(&m, "id = ?", subjectID).Error; err != nil {
		return domain.Subject{}, mapError(err)
	}
	return domain.Subject{ID: m.ID, FullName: m.FullName}, nil
}

func (r *DirectoryRepository) UpsertOrganization(ctx context.Context, org domain.Organization) error {
	return r.upsert(ctx, &OrganizationModel{
		ID:          org.ID,
		Name:        org.Name,
		HeaderLine:  org.HeaderLine,
		AccentColor: org.AccentColor,
		CreatedAt:   time.Now().UTC(),
	})
}

func (r *DirectoryRepository) UpsertProject(ctx context.Context, p domain.Project) error {
	return r.upsert(ctx, &ProjectModel{
		ID:             p.ID,
		Code:           p.Code,
		Title:          p.Title,
		OrganizationID: p.OrganizationID,
		CreatedAt:      time.Now().UTC(),
	})
}

func (r *DirectoryRepository) UpsertSubject(ctx context.Context, s domain.Subject) error {
	return r.upsert(ctx, &SubjectModel{ID: s.ID, FullName: s.FullName, CreatedAt: time.Now().UTC()})
}

func (r *DirectoryRepository) upsert(ctx context.Context, model any) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(nonKeyColumns(model)),
	}).Create(model).Error
}

func nonKeyColumns(model any) []string {
	switch model.(type) {
	case *OrganizationModel:
		return []string{"name", "header_line", "accent_color"}
	case *ProjectModel:
		return []string{"code", "title", "organization_id"}
	default:
		return []string{"full_name"}
	}
}
