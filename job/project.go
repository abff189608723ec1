package job

import (
	"database/sql"
	"time"

	"github.com/scopetools/beamline/errors"
)

// Project is the storage-owning record jobs belong to.
// The relocation engine moves its Path between the active and archive roots.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateProject inserts a new project record
func (s *Store) CreateProject(p *Project) error {
	query := `
		INSERT INTO projects (id, name, path, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, p.ID, p.Name, p.Path, p.Archived, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create project")
	}
	return nil
}

// GetProject retrieves a project by ID
func (s *Store) GetProject(id string) (*Project, error) {
	query := `SELECT id, name, path, archived, created_at, updated_at FROM projects WHERE id = ?`

	var p Project
	err := s.db.QueryRow(query, id).Scan(&p.ID, &p.Name, &p.Path, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "project %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get project")
	}
	return &p, nil
}

// UpdateProjectLocation persists the project's new path and archived flag
// in one update. Called only after a move has actually succeeded.
func (s *Store) UpdateProjectLocation(id string, path string, archived bool) error {
	query := `UPDATE projects SET path = ?, archived = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.Exec(query, path, archived, time.Now(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update project location")
	}
	changed, err := oneRowChanged(result)
	if err != nil {
		return err
	}
	if !changed {
		return errors.Wrapf(errors.ErrNotFound, "project %s", id)
	}
	return nil
}
