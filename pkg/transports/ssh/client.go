package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client implements Remote over golang.org/x/crypto/ssh.
type Client struct {
	config *Config

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftpSession
}

// NewClient creates a client for the endpoint described by config. The
// connection is established by Connect, not here.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, &TransportError{Op: "config", Err: err}
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	clientConfig, err := c.config.BuildClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	log.Debug().
		Str("address", c.config.Address()).
		Str("user", c.config.User).
		Msg("establishing ssh connection")

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", c.config.Address(), clientConfig)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return &TransportError{Op: "connect", Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return &TransportError{
				Op:          "connect",
				Err:         r.err,
				IsAuthError: strings.Contains(r.err.Error(), "unable to authenticate"),
			}
		}
		c.conn = r.conn
		return nil
	}
}

// Close tears down the connection and the SFTP subsystem if open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp != nil {
		c.sftp.close()
		c.sftp = nil
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) connection() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("not connected")}
	}
	return c.conn, nil
}

// Run executes a command on the endpoint.
func (c *Client) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	return c.run(ctx, cmd)
}

// RunSudo executes a command under sudo.
func (c *Client) RunSudo(ctx context.Context, cmd string, password string) (*ExecResult, error) {
	return c.run(ctx, sudoCommand(cmd, password))
}

// sudoCommand wraps a command for sudo execution. With a password, sudo reads
// it from stdin; without one, NOPASSWD is assumed.
func sudoCommand(cmd string, password string) string {
	if password != "" {
		return fmt.Sprintf("echo '%s' | sudo -S %s", password, cmd)
	}
	return fmt.Sprintf("sudo %s", cmd)
}

func (c *Client) run(ctx context.Context, cmd string) (*ExecResult, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	started := time.Now()
	session, err := conn.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	result := &ExecResult{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(started),
	}

	log.Debug().
		Str("address", c.config.Address()).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(runErr).
		Msg("remote command completed")

	if runErr != nil {
		if code, ok := exitStatus(runErr); ok {
			// The command ran and exited non-zero; not a transport failure.
			result.ExitCode = code
			return result, nil
		}
		result.ExitCode = -1
		return result, &TransportError{Op: "exec", Err: runErr}
	}
	return result, nil
}

// exitStatus extracts the exit code from a session error, when the command
// actually ran.
func exitStatus(err error) (int, bool) {
	type exiter interface {
		ExitStatus() int
	}
	if e, ok := err.(exiter); ok {
		return e.ExitStatus(), true
	}
	return 0, false
}

// Ping dials the endpoint, authenticates and disconnects. Used by the
// inventory prober for reachability checks with a full handshake.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Close()
}
