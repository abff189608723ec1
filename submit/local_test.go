package submit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopetools/beamline/internal/testdb"
	"github.com/scopetools/beamline/job"
)

func localRequest(jobID, outputDir string, command ...string) Request {
	return Request{
		JobID:     jobID,
		JobName:   "LocalPick-job003",
		Command:   command,
		OutputDir: outputDir,
		Mode:      job.ModeLocal,
	}
}

func TestSubmitLocalSuccess(t *testing.T) {
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	err := h.orch.Submit(context.Background(), localRequest("job1", out, "/bin/sh", "-c", "exit 0"))
	require.NoError(t, err)
	h.orch.Wait()

	j, err := h.store.GetJob("job1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, j.Status)
	assert.Nil(t, j.LocalPID, "pid must be cleared once the job is terminal")
	assert.NotNil(t, j.EndedAt)
}

func TestSubmitLocalFailureRecordsExitStatus(t *testing.T) {
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	require.NoError(t, h.orch.Submit(context.Background(),
		localRequest("job1", out, "/bin/sh", "-c", "exit 3")))
	h.orch.Wait()

	j, err := h.store.GetJob("job1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Contains(t, j.ErrorMessage, "exit status 3")
	assert.Nil(t, j.LocalPID)
}

func TestSubmitLocalSpawnFailureFailsJob(t *testing.T) {
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	err := h.orch.Submit(context.Background(),
		localRequest("job1", out, "/nonexistent/binary"))
	require.NoError(t, err, "spawn failures are reported via job state, not synchronously")

	j, _ := h.store.GetJob("job1")
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Contains(t, j.ErrorMessage, "failed to start")
}

func TestSubmitLocalCapturesOutput(t *testing.T) {
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	require.NoError(t, h.orch.Submit(context.Background(),
		localRequest("job1", out, "/bin/sh", "-c", "echo to-stdout; echo to-stderr >&2")))
	h.orch.Wait()

	stdout, err := os.ReadFile(filepath.Join(out, "run.out"))
	require.NoError(t, err)
	assert.Equal(t, "to-stdout\n", string(stdout))

	stderr, err := os.ReadFile(filepath.Join(out, "run.err"))
	require.NoError(t, err)
	assert.Equal(t, "to-stderr\n", string(stderr))
}

func TestSubmitLocalChainingMarkerRunsThroughShell(t *testing.T) {
	// An explicit "&&" element from trusted command builders switches the
	// vector to shell-string interpretation
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	require.NoError(t, h.orch.Submit(context.Background(),
		localRequest("job1", out, "echo", "first", "&&", "echo", "second")))
	h.orch.Wait()

	j, _ := h.store.GetJob("job1")
	assert.Equal(t, job.StatusSuccess, j.Status)

	stdout, err := os.ReadFile(filepath.Join(out, "run.out"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(stdout))
}

func TestSubmitLocalChainingPreservesArgumentBoundaries(t *testing.T) {
	// Quoting inside the shell string must keep a whitespace argument as
	// one word instead of letting the shell re-split it
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	target := filepath.Join(out, "file with spaces")
	require.NoError(t, h.orch.Submit(context.Background(),
		localRequest("job1", out, "touch", target, "&&", "true")))
	h.orch.Wait()

	j, _ := h.store.GetJob("job1")
	assert.Equal(t, job.StatusSuccess, j.Status)

	_, err := os.Stat(target)
	assert.NoError(t, err, "whitespace argument must arrive at the command as one word")
}

func TestJoinChainedQuotesSegments(t *testing.T) {
	got := joinChained([]string{"touch", "a b", "&&", "echo", "done"})
	assert.Equal(t, `touch 'a b' && echo done`, got)
}

func TestSubmitLocalPostCommandFailureAnnotatesWithoutChangingStatus(t *testing.T) {
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	req := localRequest("job1", out, "/bin/sh", "-c", "exit 0")
	req.PostCommand = []string{"/bin/sh", "-c", "echo oops >&2; exit 1"}

	require.NoError(t, h.orch.Submit(context.Background(), req))
	h.orch.Wait()

	j, err := h.store.GetJob("job1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, j.Status, "a post-command failure never fails the job")
	assert.Contains(t, j.ErrorMessage, "post-command failed")
}

func TestSubmitLocalPublishesSingleTerminalEvent(t *testing.T) {
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	require.NoError(t, h.orch.Submit(context.Background(),
		localRequest("job1", out, "/bin/sh", "-c", "exit 0")))
	h.orch.Wait()

	var terminal []job.StatusEvent
	for {
		select {
		case ev := <-h.events:
			if ev.NewStatus.IsTerminal() {
				terminal = append(terminal, ev)
			}
			continue
		default:
		}
		break
	}
	require.Len(t, terminal, 1)
	assert.Equal(t, job.StatusSuccess, terminal[0].NewStatus)
	assert.Equal(t, "job1", terminal[0].JobID)
}

func TestCancelLocalOutcomeNotOverwrittenByExit(t *testing.T) {
	// Cancellation racing the process exit: the cancelled state wins and
	// the supervisor discards the exit outcome
	h := newTestHarness(t, nil)
	out := t.TempDir()
	testdb.SeedJob(t, h.store, "job1", "proj1", job.StatusPending, job.ModeLocal, out)

	require.NoError(t, h.orch.Submit(context.Background(),
		localRequest("job1", out, "/bin/sh", "-c", "sleep 30")))

	// The pid is stored before Submit returns
	j, err := h.store.GetJob("job1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, j.Status)
	require.NotNil(t, j.LocalPID)

	require.NoError(t, h.orch.Cancel(context.Background(), "job1"))
	h.orch.Wait()

	j, err = h.store.GetJob("job1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, j.Status, "the exit outcome must not overwrite the cancellation")
	assert.Nil(t, j.LocalPID)
}
