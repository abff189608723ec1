package remote

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/scopetools/beamline/config"
	"github.com/scopetools/beamline/errors"
)

// EphemeralSession is a short-lived connection authenticated with
// caller-supplied credentials, opened for one submission.
//
// It exposes the same execute/writeFile contract as the shared session but
// participates in no reconnect logic: a failure here is terminal for the
// call. Callers must Close it, and it touches no shared mutable state.
type EphemeralSession struct {
	conn   conn
	logger *zap.SugaredLogger
}

// NewEphemeralSession opens an independent connection for the given
// credentials. The connect attempt itself is bounded by the cluster
// connect timeout.
func NewEphemeralSession(ctx context.Context, cfg config.ClusterConfig, creds Credentials, logger *zap.SugaredLogger) (*EphemeralSession, error) {
	if creds.User == "" {
		return nil, errors.NewValidationError("ephemeral session requires a user")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	c, err := dialSSH(dialCtx, cfg, &creds)
	if err != nil {
		return nil, err
	}

	logger.Debugw("Ephemeral session opened", "host", cfg.Host, "user", creds.User)
	return &EphemeralSession{conn: c, logger: logger}, nil
}

// Execute runs a single shell-escaped command line over this session
func (e *EphemeralSession) Execute(ctx context.Context, cmd string, args []string, opts ExecOptions) (Result, error) {
	return e.conn.Run(ctx, buildCommandLine(cmd, args, opts.WorkDir))
}

// WriteFile writes content to a remote path over this session
func (e *EphemeralSession) WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error {
	return e.conn.WriteFile(ctx, path, content, mode)
}

// Close tears the connection down. Always call it, regardless of outcome.
func (e *EphemeralSession) Close() error {
	e.logger.Debugw("Ephemeral session closed")
	return e.conn.Close()
}
