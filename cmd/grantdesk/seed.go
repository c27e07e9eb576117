package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"grantdesk/internal/domain"
)

type directoryWriter interface {
	UpsertOrganization(ctx context.Context, org domain.Organization) error
	UpsertProject(ctx context.Context, p domain.Project) error
	UpsertSubject(ctx context.Context, s domain.Subject) error
}

// directorySeed is the on-disk shape of DIRECTORY_SEED_PATH.
type directorySeed struct {
	Organizations []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		HeaderLine  string `json:"header_line"`
		AccentColor string `json:"accent_color"`
	} `json:"organizations"`
	Projects []struct {
		ID             string `json:"id"`
		Code           string `json:"code"`
		Title          string `json:"title"`
		OrganizationID string `json:"organization_id"`
	} `json:"projects"`
	Subjects []struct {
		ID       string `json:"id"`
		FullName string `json:"full_name"`
	} `json:"subjects"`
}

func loadDirectorySeed(path string) (directorySeed, error) {
	var seed directorySeed
	raw, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read directory seed: %w", err)
	}
	if err := json.Unmarshal(raw, &seed); err != nil {
		return seed, fmt.Errorf("decode directory seed: %w", err)
	}
	return seed, nil
}

// apply upserts organizations first so projects never point at a missing one.
func (s directorySeed) apply(ctx context.Context, w directoryWriter) (int, error) {
	n := 0
	for _, o := range s.Organizations {
		if o.ID == "" {
			return n, fmt.Errorf("organization without id")
		}
		if err := w.UpsertOrganization(ctx, domain.Organization{ID: o.ID, Name: o.Name, HeaderLine: o.HeaderLine, AccentColor: o.AccentColor}); err != nil {
			return n, fmt.Errorf("upsert organization %s: %w", o.ID, err)
		}
		n++
	}
	for _, p := range s.Projects {
		if p.ID == "" || p.OrganizationID == "" {
			return n, fmt.Errorf("project %q needs an id and organization_id", p.ID)
		}
		if err := w.UpsertProject(ctx, domain.Project{ID: p.ID, Code: p.Code, Title: p.Title, OrganizationID: p.OrganizationID}); err != nil {
			return n, fmt.Errorf("upsert project %s: %w", p.ID, err)
		}
		n++
	}
	for _, sub := range s.Subjects {
		if sub.ID == "" {
			return n, fmt.Errorf("subject without id")
		}
		if err := w.UpsertSubject(ctx, domain.Subject{ID: sub.ID, FullName: sub.FullName}); err != nil {
			return n, fmt.Errorf("upsert subject %s: %w", sub.ID, err)
		}
		n++
	}
	return n, nil
}
