// Package testdb creates throwaway migrated databases for tests.
package testdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/scopetools/beamline/db"
	"github.com/scopetools/beamline/job"
)

// New opens a migrated SQLite database in a test temp dir.
// The connection is closed automatically when the test ends.
func New(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return conn
}

// SeedProject inserts a project fixture and returns it.
func SeedProject(t *testing.T, store *job.Store, id, path string) *job.Project {
	t.Helper()

	now := time.Now()
	p := &job.Project{
		ID:        id,
		Name:      id,
		Path:      path,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateProject(p); err != nil {
		t.Fatalf("failed to seed project %s: %v", id, err)
	}
	return p
}

// SeedJob inserts a job fixture in the given state and returns it.
func SeedJob(t *testing.T, store *job.Store, id, projectID string, status job.Status, mode job.ExecutionMode, outputDir string) *job.Job {
	t.Helper()

	now := time.Now()
	j := &job.Job{
		ID:            id,
		ProjectID:     projectID,
		Status:        status,
		ExecutionMode: mode,
		OutputDir:     outputDir,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.CreateJob(j); err != nil {
		t.Fatalf("failed to seed job %s: %v", id, err)
	}
	return j
}
