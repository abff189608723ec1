// Package relocate moves project storage between the active and archive
// roots and keeps recorded job paths consistent with where the data
// actually lives.
package relocate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/scopetools/beamline/config"
	"github.com/scopetools/beamline/errors"
	"github.com/scopetools/beamline/job"
)

// Actor identifies who requested a relocation. Authorization happens here
// because a move touches data the requester may not own.
type Actor struct {
	Name       string
	Privileged bool
}

// Ack is the immediate response to a relocation request. The move itself
// runs in the background; failures surface only in logs and on later reads.
type Ack struct {
	ProjectID string `json:"project_id"`
	Pending   bool   `json:"pending"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Engine runs precondition-checked project moves
type Engine struct {
	cfg    config.StorageConfig
	store  *job.Store
	logger *zap.SugaredLogger
	wg     sync.WaitGroup

	// swapped out in tests to observe or fail moves
	move func(ctx context.Context, src, dst string) error
}

// NewEngine creates a relocation engine over the given storage roots
func NewEngine(cfg config.StorageConfig, store *job.Store, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("relocate"),
		move:   moveTree,
	}
}

// Wait blocks until all background moves have finished. Called on shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Archive moves a project from the active root to the archive root.
//
// All preconditions are checked synchronously; the caller gets a pending
// acknowledgement before any data moves. The archived flag flips only
// after the move succeeds, so a failed move leaves the operation cleanly
// retryable.
func (e *Engine) Archive(ctx context.Context, projectID string, actor Actor) (*Ack, error) {
	if e.cfg.ArchiveRoot == "" {
		return nil, errors.NewConfigurationError("no archive root is configured")
	}

	p, err := e.authorize(projectID, actor)
	if err != nil {
		return nil, err
	}
	if p.Archived {
		return nil, errors.NewValidationError("project %s is already archived", projectID)
	}

	active, err := e.store.CountActiveByProject(projectID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, errors.NewPreconditionError(
			"project %s has %d active job(s); archive once they finish", projectID, active)
	}

	dst := filepath.Join(e.cfg.ArchiveRoot, filepath.Base(p.Path))
	if err := e.checkEndpoints(p.Path, dst); err != nil {
		return nil, err
	}

	e.startMove(projectID, p.Path, dst, true)
	return &Ack{ProjectID: projectID, Pending: true, From: p.Path, To: dst}, nil
}

// Restore moves an archived project back to the active root
func (e *Engine) Restore(ctx context.Context, projectID string, actor Actor) (*Ack, error) {
	if e.cfg.ActiveRoot == "" {
		return nil, errors.NewConfigurationError("no active storage root is configured")
	}

	p, err := e.authorize(projectID, actor)
	if err != nil {
		return nil, err
	}
	if !p.Archived {
		return nil, errors.NewValidationError("project %s is not archived", projectID)
	}

	dst := filepath.Join(e.cfg.ActiveRoot, filepath.Base(p.Path))
	if err := e.checkEndpoints(p.Path, dst); err != nil {
		return nil, err
	}

	e.startMove(projectID, p.Path, dst, false)
	return &Ack{ProjectID: projectID, Pending: true, From: p.Path, To: dst}, nil
}

// Relocate points a project at a directory that already exists at the new
// location (e.g. moved by an administrator out of band). No data moves;
// recorded paths are rewritten synchronously. Privileged callers only.
func (e *Engine) Relocate(ctx context.Context, projectID, newPath string, actor Actor) (*Ack, error) {
	if !actor.Privileged {
		return nil, errors.Wrapf(errors.ErrUnauthorized,
			"relocate requires a privileged caller, got %q", actor.Name)
	}
	if !filepath.IsAbs(newPath) {
		return nil, errors.NewValidationError("destination must be absolute: %q", newPath)
	}
	if info, err := os.Stat(newPath); err != nil || !info.IsDir() {
		return nil, errors.NewPreconditionError("destination directory does not exist: %s", newPath)
	}

	p, err := e.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}

	// The archived flag follows from where the data now lives; a path under
	// neither root leaves it unchanged
	archived := p.Archived
	switch {
	case isUnder(newPath, e.cfg.ArchiveRoot):
		archived = true
	case isUnder(newPath, e.cfg.ActiveRoot):
		archived = false
	}

	// Job paths first: if the rewrite fails the project still points at the
	// old path, so a retry matches the same prefix
	rewritten, err := e.store.RewritePathPrefix(projectID, p.Path, newPath)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateProjectLocation(projectID, newPath, archived); err != nil {
		return nil, err
	}

	e.logger.Infow("Project relocated",
		"project_id", projectID, "from", p.Path, "to", newPath,
		"archived", archived, "jobs_rewritten", rewritten, "actor", actor.Name)
	return &Ack{ProjectID: projectID, Pending: false, From: p.Path, To: newPath}, nil
}

// authorize loads the project and checks the actor may touch it
func (e *Engine) authorize(projectID string, actor Actor) (*job.Project, error) {
	if actor.Name == "" {
		return nil, errors.Wrap(errors.ErrUnauthorized, "relocation requires an authenticated caller")
	}
	return e.store.GetProject(projectID)
}

// checkEndpoints verifies the source exists and the destination is free
func (e *Engine) checkEndpoints(src, dst string) error {
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return errors.NewPreconditionError("source directory does not exist: %s", src)
	}
	if _, err := os.Stat(dst); err == nil {
		return errors.NewPreconditionError("destination already exists: %s", dst)
	}
	return nil
}

// startMove launches the background move. State flips only on success;
// a failure is logged and the request can simply be issued again.
func (e *Engine) startMove(projectID, src, dst string, archived bool) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.MoveTimeout())
		defer cancel()

		if err := e.move(ctx, src, dst); err != nil {
			e.logger.Errorw("Project move failed; state unchanged",
				"project_id", projectID, "from", src, "to", dst, "error", err)
			return
		}

		if err := e.store.UpdateProjectLocation(projectID, dst, archived); err != nil {
			e.logger.Errorw("Move succeeded but location update failed",
				"project_id", projectID, "to", dst, "error", err)
			return
		}
		rewritten, err := e.store.RewritePathPrefix(projectID, src, dst)
		if err != nil {
			e.logger.Errorw("Failed to rewrite job paths",
				"project_id", projectID, "error", err)
			return
		}
		e.logger.Infow("Project moved",
			"project_id", projectID, "from", src, "to", dst,
			"archived", archived, "jobs_rewritten", rewritten)
	}()
}

// isUnder reports whether path is root or inside root
func isUnder(path, root string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
