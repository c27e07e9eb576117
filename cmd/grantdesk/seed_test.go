package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"grantdesk/internal/infra/memdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectorySeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"organizations": [{"id": "org-1", "name": "Open Science Fund", "header_line": "Monthly activity report", "accent_color": "#1f4e79"}],
		"projects": [{"id": "proj-1", "code": "OSF-12", "title": "Soil Carbon Survey", "organization_id": "org-1"}],
		"subjects": [{"id": "subject-1", "full_name": "Ana Pereira"}]
	}`), 0o600))

	seed, err := loadDirectorySeed(path)
	require.NoError(t, err)
	directory := memdb.NewDirectoryRepository()
	n, err := seed.apply(context.Background(), directory)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	project, err := directory.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", project.OrganizationID)
	org, err := directory.GetOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "Monthly activity report", org.HeaderLine)
}

func TestDirectorySeedRejectsOrphanProject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"projects": [{"id": "p"}]}`), 0o600))
	seed, err := loadDirectorySeed(path)
	require.NoError(t, err)
	_, err = seed.apply(context.Background(), memdb.NewDirectoryRepository())
	assert.ErrorContains(t, err, "organization_id")
}
