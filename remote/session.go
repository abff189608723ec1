package remote

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scopetools/beamline/config"
	"github.com/scopetools/beamline/errors"
)

// reconnectBaseDelay is the first autonomous reconnect delay; it doubles
// on every failed attempt up to the configured ceiling.
const reconnectBaseDelay = time.Second

type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnecting
	stateReady
	stateShutdown
)

// conn is one established transport to the cluster head node.
// The production implementation wraps *ssh.Client; tests substitute fakes.
type conn interface {
	Run(ctx context.Context, line string) (Result, error)
	WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error
	Wait() error
	Close() error
}

// dialFunc opens a new transport. Injectable for tests.
type dialFunc func(ctx context.Context) (conn, error)

// Session is the single shared long-lived connection used for all
// shared-credential remote execution.
//
// A connect attempt already in flight causes concurrent callers to wait,
// bounded by the connect timeout, rather than opening duplicate handshakes.
// On error/close the session schedules a reconnect with exponential backoff,
// independent of whether any caller is currently waiting.
type Session struct {
	cfg    config.ClusterConfig
	dial   dialFunc
	logger *zap.SugaredLogger

	mu       sync.Mutex
	state    sessionState
	client   conn
	lastErr  error
	attempts int
	timer    *time.Timer
	waiters  []chan struct{}
}

// NewSession creates the shared session service object. Call Initialize to
// open the connection and Shutdown when the process exits.
func NewSession(cfg config.ClusterConfig, logger *zap.SugaredLogger) *Session {
	s := &Session{
		cfg:    cfg,
		logger: logger.Named("remote"),
	}
	s.dial = func(ctx context.Context) (conn, error) {
		return dialSSH(ctx, cfg, nil)
	}
	return s
}

// Initialize opens the connection in the background.
// Callers arriving before it is ready wait inside Execute/WriteFile.
func (s *Session) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startConnectLocked()
}

// Shutdown closes the connection and stops any pending reconnect.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = stateShutdown
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.notifyWaitersLocked()
	s.logger.Infow("Shared session shut down")
}

// Execute runs a single shell-escaped command line over the shared session
func (s *Session) Execute(ctx context.Context, cmd string, args []string, opts ExecOptions) (Result, error) {
	c, err := s.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	return c.Run(ctx, buildCommandLine(cmd, args, opts.WorkDir))
}

// WriteFile writes content to a remote path over the transfer channel
func (s *Session) WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error {
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	return c.WriteFile(ctx, path, content, mode)
}

// State reports the current connection state for health checks
func (s *Session) State() (connected bool, lastErr error, reconnectAttempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady, s.lastErr, s.attempts
}

// acquire returns the live transport, waiting for a pending connect if one
// is in flight. The wait is bounded by the connect timeout.
func (s *Session) acquire(ctx context.Context) (conn, error) {
	deadline := time.NewTimer(s.cfg.ConnectTimeout())
	defer deadline.Stop()

	s.mu.Lock()
	for {
		switch s.state {
		case stateShutdown:
			s.mu.Unlock()
			return nil, errors.Wrap(errors.ErrConnection, "shared session is shut down")
		case stateReady:
			c := s.client
			s.mu.Unlock()
			return c, nil
		case stateDisconnected:
			// No connect in flight and no reconnect pending: start one.
			// A pending reconnect timer keeps ownership of the next attempt.
			if s.timer == nil {
				s.startConnectLocked()
			}
		case stateConnecting:
			// Another caller's handshake is in flight; wait for it.
		}

		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrConnection, ctx.Err().Error())
		case <-deadline.C:
			s.mu.Lock()
			lastErr := s.lastErr
			s.mu.Unlock()
			if lastErr != nil {
				return nil, errors.Wrapf(errors.ErrConnection, "connect timed out after %s: %v", s.cfg.ConnectTimeout(), lastErr)
			}
			return nil, errors.Wrapf(errors.ErrConnection, "connect timed out after %s", s.cfg.ConnectTimeout())
		}
		s.mu.Lock()
	}
}

// startConnectLocked transitions to connecting and launches the handshake.
// REQUIRES: s.mu held.
func (s *Session) startConnectLocked() {
	if s.state == stateConnecting || s.state == stateReady || s.state == stateShutdown {
		return
	}
	s.state = stateConnecting
	go s.connect()
}

func (s *Session) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout())
	defer cancel()

	c, err := s.dial(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateShutdown {
		if c != nil {
			_ = c.Close()
		}
		return
	}

	if err != nil {
		s.state = stateDisconnected
		s.lastErr = err
		s.scheduleReconnectLocked()
		s.logger.Warnw("Shared session connect failed",
			"host", s.cfg.Host,
			"attempt", s.attempts,
			"error", err)
		return
	}

	s.client = c
	s.state = stateReady
	s.attempts = 0
	s.lastErr = nil
	s.notifyWaitersLocked()
	s.logger.Infow("Shared session connected", "host", s.cfg.Host)

	// Watch for the transport dropping and trigger autonomous reconnect
	go func() {
		err := c.Wait()
		s.handleDisconnect(err)
	}()
}

func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateShutdown {
		return
	}

	s.client = nil
	s.state = stateDisconnected
	s.lastErr = err
	s.scheduleReconnectLocked()
	s.logger.Warnw("Shared session lost, reconnect scheduled",
		"host", s.cfg.Host,
		"error", err)
}

// scheduleReconnectLocked arms the autonomous reconnect timer with
// exponential backoff. REQUIRES: s.mu held.
func (s *Session) scheduleReconnectLocked() {
	delay := backoffDelay(s.attempts, reconnectBaseDelay, s.cfg.MaxReconnectDelay())
	s.attempts++

	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.timer = nil
		s.startConnectLocked()
	})
}

// notifyWaitersLocked wakes every caller blocked in acquire.
// REQUIRES: s.mu held.
func (s *Session) notifyWaitersLocked() {
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}

// backoffDelay returns base doubled attempt times, capped at max
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
