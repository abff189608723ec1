package submit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scopetools/beamline/internal/testdb"
	"github.com/scopetools/beamline/job"
	"github.com/scopetools/beamline/script"
)

func newTestMonitor(t *testing.T, store *job.Store, notifier *job.Notifier) *Monitor {
	t.Helper()

	m, err := NewMonitor(store, notifier, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	m.interval = 25 * time.Millisecond

	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func touchMarker(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}

func waitForStatus(t *testing.T, store *job.Store, jobID string, want job.Status) *job.Job {
	t.Helper()

	var got *job.Job
	require.Eventually(t, func() bool {
		j, err := store.GetJob(jobID)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
	return got
}

func TestMonitorFinishesJobOnSuccessMarker(t *testing.T) {
	store := job.NewStore(testdb.New(t))
	notifier := job.NewNotifier()
	testdb.SeedProject(t, store, "proj1", "/data/proj1")

	out := t.TempDir()
	testdb.SeedJob(t, store, "job1", "proj1", job.StatusRunning, job.ModeCluster, out)

	events := notifier.Subscribe()
	t.Cleanup(func() { notifier.Unsubscribe(events) })

	newTestMonitor(t, store, notifier)
	touchMarker(t, out, script.MarkerSuccess)

	j := waitForStatus(t, store, "job1", job.StatusSuccess)
	assert.Empty(t, j.ErrorMessage)
	assert.NotNil(t, j.EndedAt)

	select {
	case ev := <-events:
		assert.Equal(t, job.StatusSuccess, ev.NewStatus)
	case <-time.After(time.Second):
		t.Fatal("no status event published")
	}
}

func TestMonitorFinishesJobOnFailureMarker(t *testing.T) {
	store := job.NewStore(testdb.New(t))
	notifier := job.NewNotifier()
	testdb.SeedProject(t, store, "proj1", "/data/proj1")

	out := t.TempDir()
	testdb.SeedJob(t, store, "job1", "proj1", job.StatusRunning, job.ModeCluster, out)

	newTestMonitor(t, store, notifier)
	touchMarker(t, out, script.MarkerFailure)

	j := waitForStatus(t, store, "job1", job.StatusFailed)
	assert.Contains(t, j.ErrorMessage, "failure marker")
}

func TestMonitorPicksUpMarkerWrittenBeforeWatch(t *testing.T) {
	// The marker already exists when the job enters the watch set; only the
	// reconcile pass can see it
	store := job.NewStore(testdb.New(t))
	notifier := job.NewNotifier()
	testdb.SeedProject(t, store, "proj1", "/data/proj1")

	out := t.TempDir()
	touchMarker(t, out, script.MarkerSuccess)
	testdb.SeedJob(t, store, "job1", "proj1", job.StatusRunning, job.ModeCluster, out)

	newTestMonitor(t, store, notifier)
	waitForStatus(t, store, "job1", job.StatusSuccess)
}

func TestMonitorIgnoresUnrelatedFilesAndLocalJobs(t *testing.T) {
	store := job.NewStore(testdb.New(t))
	notifier := job.NewNotifier()
	testdb.SeedProject(t, store, "proj1", "/data/proj1")

	clusterOut := t.TempDir()
	localOut := t.TempDir()
	testdb.SeedJob(t, store, "job1", "proj1", job.StatusRunning, job.ModeCluster, clusterOut)
	testdb.SeedJob(t, store, "job2", "proj1", job.StatusRunning, job.ModeLocal, localOut)

	newTestMonitor(t, store, notifier)
	touchMarker(t, clusterOut, "run.out")
	touchMarker(t, localOut, script.MarkerSuccess)

	time.Sleep(150 * time.Millisecond)

	j1, _ := store.GetJob("job1")
	assert.Equal(t, job.StatusRunning, j1.Status, "unrelated files must not finish the job")
	j2, _ := store.GetJob("job2")
	assert.Equal(t, job.StatusRunning, j2.Status, "local jobs are supervised by process wait, not markers")
}

func TestMonitorRespectsTerminalGuard(t *testing.T) {
	// The job was cancelled while the marker was being written; the marker
	// must not resurrect it
	store := job.NewStore(testdb.New(t))
	notifier := job.NewNotifier()
	testdb.SeedProject(t, store, "proj1", "/data/proj1")

	out := t.TempDir()
	testdb.SeedJob(t, store, "job1", "proj1", job.StatusRunning, job.ModeCluster, out)

	m, err := NewMonitor(store, notifier, nil, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { m.watcher.Close() })
	m.reconcile()

	changed, err := store.Finish("job1", job.StatusCancelled, "")
	require.NoError(t, err)
	require.True(t, changed)

	touchMarker(t, out, script.MarkerSuccess)
	m.checkMarkers(out)

	j, _ := store.GetJob("job1")
	assert.Equal(t, job.StatusCancelled, j.Status)
}
