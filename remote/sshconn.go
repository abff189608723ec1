package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/scopetools/beamline/config"
	"github.com/scopetools/beamline/errors"
)

// dialSSH opens a transport to the cluster head node.
// creds overrides the shared user/key when an ephemeral session is requested.
func dialSSH(ctx context.Context, cfg config.ClusterConfig, creds *Credentials) (conn, error) {
	user := cfg.User
	keyFile := cfg.KeyFile
	password := ""
	if creds != nil {
		user = creds.User
		keyFile = creds.KeyFile
		password = creds.Password
	}

	var auth []ssh.AuthMethod
	if keyFile != "" {
		keyBytes, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrConnection, "failed to read key file %s: %v", keyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrConnection, "failed to parse private key %s: %v", keyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, errors.Wrap(errors.ErrConfiguration, "no SSH credentials configured")
	}

	clientConfig := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// The head node lives on the facility network; host identity is
		// handled at the network layer, not per-connection.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout(),
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	// ssh.Dial has its own timeout; honor ctx cancellation for the TCP leg
	var d net.Dialer
	tcpConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConnection, "failed to dial %s: %v", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, clientConfig)
	if err != nil {
		tcpConn.Close()
		return nil, errors.Wrapf(errors.ErrConnection, "SSH handshake with %s failed: %v", addr, err)
	}

	return &sshTransport{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// sshTransport adapts *ssh.Client to the conn interface
type sshTransport struct {
	client *ssh.Client
}

// Run executes one already-escaped command line in a fresh SSH session
func (t *sshTransport) Run(ctx context.Context, line string) (Result, error) {
	sess, err := t.client.NewSession()
	if err != nil {
		return Result{}, errors.Wrapf(errors.ErrConnection, "failed to open SSH session: %v", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(line); err != nil {
		return Result{}, errors.Wrapf(errors.ErrConnection, "failed to start remote command: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return Result{Stdout: stdout.String(), Stderr: stderr.String()},
			errors.Wrap(errors.ErrConnection, ctx.Err().Error())
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return result, &ExecError{
				Cmd:      line,
				ExitCode: exitErr.ExitStatus(),
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
			}
		}
		return result, errors.Wrapf(errors.ErrConnection, "remote command failed: %v", err)
	}
	return result, nil
}

// WriteFile transfers content over SFTP, creating parent directories
func (t *sshTransport) WriteFile(ctx context.Context, filePath string, content []byte, mode os.FileMode) error {
	sftpClient, err := sftp.NewClient(t.client)
	if err != nil {
		return errors.Wrapf(errors.ErrConnection, "failed to open SFTP channel: %v", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(filePath)); err != nil {
		return errors.Wrapf(err, "failed to create remote directory for %s", filePath)
	}

	f, err := sftpClient.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create remote file %s", filePath)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write remote file %s", filePath)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close remote file %s", filePath)
	}

	if err := sftpClient.Chmod(filePath, mode); err != nil {
		return errors.Wrapf(err, "failed to chmod remote file %s", filePath)
	}
	return nil
}

func (t *sshTransport) Wait() error {
	return t.client.Wait()
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}

// buildCommandLine assembles one shell-escaped command line.
// Every argument is individually quoted to prevent injection; the optional
// working-directory change is prefixed the same way.
func buildCommandLine(cmd string, args []string, workDir string) string {
	line := shellquote.Join(append([]string{cmd}, args...)...)
	if workDir != "" {
		line = "cd " + shellquote.Join(workDir) + " && " + line
	}
	return line
}
