// Package commands implements the beamline CLI commands.
package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scopetools/beamline/config"
	"github.com/scopetools/beamline/db"
	"github.com/scopetools/beamline/job"
	"github.com/scopetools/beamline/logger"
	"github.com/scopetools/beamline/relocate"
	"github.com/scopetools/beamline/remote"
	"github.com/scopetools/beamline/submit"
)

// app bundles the wiring every command needs: configuration, the record
// store and (when the cluster is configured) the shared remote session.
type app struct {
	cfg      *config.Config
	database *sql.DB
	store    *job.Store
	notifier *job.Notifier
	session  *remote.Session
	orch     *submit.Orchestrator
}

// openApp loads configuration and opens the record store. The shared
// session is created only when a cluster is configured, and connects
// lazily on first use.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		database: database,
		store:    job.NewStore(database),
		notifier: job.NewNotifier(),
	}
	if cfg.Cluster.Enabled() {
		a.session = remote.NewSession(cfg.Cluster, logger.Logger)
		a.session.Initialize()
	}
	a.orch = submit.New(cfg, a.store, a.notifier, a.session, nil, logger.Logger)

	// Jobs whose process died while no beamline command was running would
	// otherwise stay running forever
	if err := a.orch.RecoverOrphans(context.Background()); err != nil {
		logger.Logger.Warnw("Orphan recovery failed", "error", err)
	}
	return a, nil
}

// close waits for in-flight supervisors and releases the session and store
func (a *app) close() {
	a.orch.Wait()
	if a.session != nil {
		a.session.Shutdown()
	}
	a.database.Close()
}

// newEngine builds a relocation engine over the app's store
func newEngine(a *app) *relocate.Engine {
	return relocate.NewEngine(a.cfg.Storage, a.store, logger.Logger)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
