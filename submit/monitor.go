package submit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/scopetools/beamline/errors"
	"github.com/scopetools/beamline/job"
	"github.com/scopetools/beamline/script"
)

// defaultMonitorInterval is how often the monitor reconciles the watch set
// against running cluster jobs. Filesystem events finish jobs faster; the
// poll catches markers written before the watch existed and directories on
// filesystems without event support.
const defaultMonitorInterval = 15 * time.Second

// Monitor finishes cluster jobs by watching their output directories for
// the exit-status marker files the batch script touches. Cluster processes
// run out of reach of a wait call, so the markers are the completion signal.
type Monitor struct {
	store     *job.Store
	notifier  *job.Notifier
	cataloger Cataloger
	logger    *zap.SugaredLogger
	interval  time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	watched map[string]string // output dir -> job id
}

// NewMonitor creates a cluster completion monitor. cataloger may be nil.
func NewMonitor(store *job.Store, notifier *job.Notifier, cataloger Cataloger, logger *zap.SugaredLogger) (*Monitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filesystem watcher")
	}
	return &Monitor{
		store:     store,
		notifier:  notifier,
		cataloger: cataloger,
		logger:    logger.Named("monitor"),
		interval:  defaultMonitorInterval,
		watcher:   watcher,
		watched:   make(map[string]string),
	}, nil
}

// Start launches the monitor loop. Stop must be called to release the
// watcher.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop shuts the monitor down and waits for the loop to exit
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if err := m.watcher.Close(); err != nil {
		m.logger.Warnw("Failed to close watcher", "error", err)
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.reconcile()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcile()
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				m.handleMarker(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warnw("Watcher error", "error", err)
		}
	}
}

// reconcile aligns the watch set with running cluster jobs and re-checks
// for markers that appeared while a directory was unwatched
func (m *Monitor) reconcile() {
	running, err := m.store.ListRunningByMode(job.ModeCluster)
	if err != nil {
		m.logger.Errorw("Failed to list running cluster jobs", "error", err)
		return
	}

	active := make(map[string]string, len(running))
	for _, j := range running {
		if j.OutputDir == "" {
			continue
		}
		active[j.OutputDir] = j.ID
	}

	m.mu.Lock()
	for dir := range m.watched {
		if _, still := active[dir]; !still {
			delete(m.watched, dir)
			if err := m.watcher.Remove(dir); err != nil {
				m.logger.Debugw("Failed to unwatch directory", "dir", dir, "error", err)
			}
		}
	}
	for dir, jobID := range active {
		if _, ok := m.watched[dir]; ok {
			continue
		}
		if err := m.watcher.Add(dir); err != nil {
			m.logger.Debugw("Cannot watch output directory yet", "dir", dir, "error", err)
			continue
		}
		m.watched[dir] = jobID
	}
	m.mu.Unlock()

	// Markers written before the watch existed never produce an event
	for dir := range active {
		m.checkMarkers(dir)
	}
}

func (m *Monitor) checkMarkers(dir string) {
	if _, err := os.Stat(filepath.Join(dir, script.MarkerSuccess)); err == nil {
		m.finish(dir, true)
		return
	}
	if _, err := os.Stat(filepath.Join(dir, script.MarkerFailure)); err == nil {
		m.finish(dir, false)
	}
}

// handleMarker reacts to a filesystem event on a watched directory
func (m *Monitor) handleMarker(path string) {
	switch filepath.Base(path) {
	case script.MarkerSuccess:
		m.finish(filepath.Dir(path), true)
	case script.MarkerFailure:
		m.finish(filepath.Dir(path), false)
	}
}

// finish moves the watched job to its terminal state. The store's terminal
// guard makes duplicate marker events harmless.
func (m *Monitor) finish(dir string, success bool) {
	m.mu.Lock()
	jobID, ok := m.watched[dir]
	if ok {
		delete(m.watched, dir)
		if err := m.watcher.Remove(dir); err != nil {
			m.logger.Debugw("Failed to unwatch directory", "dir", dir, "error", err)
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	status := job.StatusSuccess
	errMsg := ""
	if !success {
		status = job.StatusFailed
		errMsg = "job wrote failure marker"
	}

	changed, err := m.store.Finish(jobID, status, errMsg)
	if err != nil {
		m.logger.Errorw("Failed to finish cluster job", "job_id", jobID, "error", err)
		return
	}
	if !changed {
		return
	}

	if success && m.cataloger != nil {
		if err := m.cataloger.Catalog(context.Background(), jobID, dir); err != nil {
			m.logger.Warnw("Cataloging failed", "job_id", jobID, "error", err)
			if aerr := m.store.AnnotateError(jobID, "cataloging failed: "+err.Error()); aerr != nil {
				m.logger.Errorw("Failed to annotate job", "job_id", jobID, "error", aerr)
			}
		}
	}

	m.notifier.Publish(jobID, job.StatusRunning, status, errMsg)
	m.logger.Infow("Cluster job finished", "job_id", jobID, "status", status)
}
