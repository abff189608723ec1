package remote

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scopetools/beamline/config"
	"github.com/scopetools/beamline/errors"
)

// fakeConn is a scriptable transport for session tests
type fakeConn struct {
	runFn  func(line string) (Result, error)
	waitCh chan error
	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{waitCh: make(chan error, 1)}
}

func (f *fakeConn) Run(ctx context.Context, line string) (Result, error) {
	if f.runFn != nil {
		return f.runFn(line)
	}
	return Result{Stdout: "ok"}, nil
}

func (f *fakeConn) WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error {
	return nil
}

func (f *fakeConn) Wait() error {
	return <-f.waitCh
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func testClusterConfig() config.ClusterConfig {
	return config.ClusterConfig{
		Host:                  "head.example.org",
		Port:                  22,
		User:                  "pipeline",
		ConnectTimeoutSecs:    2,
		MaxReconnectDelaySecs: 4,
	}
}

func newTestSession(dial dialFunc) *Session {
	return &Session{
		cfg:    testClusterConfig(),
		dial:   dial,
		logger: zap.NewNop().Sugar(),
	}
}

func TestConcurrentCallersShareOneHandshake(t *testing.T) {
	var dials atomic.Int32
	s := newTestSession(func(ctx context.Context) (conn, error) {
		dials.Add(1)
		time.Sleep(100 * time.Millisecond) // handshake in flight while callers arrive
		return newFakeConn(), nil
	})
	defer s.Shutdown()
	s.Initialize()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Execute(context.Background(), "squeue", nil, ExecOptions{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), dials.Load(), "concurrent callers must not open duplicate handshakes")
}

func TestAcquireTimesOutWhileConnectPending(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	s := newTestSession(func(ctx context.Context) (conn, error) {
		<-block
		return nil, errors.New("never reached")
	})
	defer s.Shutdown()

	start := time.Now()
	_, err := s.Execute(context.Background(), "squeue", nil, ExecOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsConnectionError(err))
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestAutonomousReconnectAfterDrop(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	conns := []*fakeConn{first, second}
	var dials atomic.Int32

	s := newTestSession(func(ctx context.Context) (conn, error) {
		n := dials.Add(1)
		return conns[n-1], nil
	})
	defer s.Shutdown()
	s.Initialize()

	_, err := s.Execute(context.Background(), "squeue", nil, ExecOptions{})
	require.NoError(t, err)

	// Drop the transport; the session must reconnect on its own
	first.waitCh <- errors.New("connection reset by peer")

	require.Eventually(t, func() bool {
		connected, _, _ := s.State()
		return connected && dials.Load() == 2
	}, 5*time.Second, 50*time.Millisecond, "session did not reconnect autonomously")

	_, err = s.Execute(context.Background(), "squeue", nil, ExecOptions{})
	require.NoError(t, err)
}

func TestShutdownWakesWaiters(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	s := newTestSession(func(ctx context.Context) (conn, error) {
		<-block
		return nil, errors.New("never reached")
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), "squeue", nil, ExecOptions{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	s.Shutdown()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsConnectionError(err))
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Shutdown")
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	max := 60 * time.Second
	assert.Equal(t, time.Second, backoffDelay(0, time.Second, max))
	assert.Equal(t, 2*time.Second, backoffDelay(1, time.Second, max))
	assert.Equal(t, 4*time.Second, backoffDelay(2, time.Second, max))
	assert.Equal(t, 32*time.Second, backoffDelay(5, time.Second, max))
	assert.Equal(t, max, backoffDelay(6, time.Second, max))
	assert.Equal(t, max, backoffDelay(20, time.Second, max))
}

func TestBuildCommandLineQuotesEveryArgument(t *testing.T) {
	line := buildCommandLine("relion_refine", []string{"--o", "Refine3D/job 01", "--note", "a;b"}, "")
	assert.Equal(t, `relion_refine --o 'Refine3D/job 01' --note 'a;b'`, line)
}

func TestBuildCommandLinePrefixesWorkDir(t *testing.T) {
	line := buildCommandLine("ls", []string{"-la"}, "/data/proj ects")
	assert.Equal(t, `cd '/data/proj ects' && ls -la`, line)
}
