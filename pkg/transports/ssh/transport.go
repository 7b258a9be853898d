// Package ssh carries provisioning actions to remote endpoints over SSH and
// SFTP. It is the only package that opens network connections to managed
// hosts.
package ssh

import (
	"context"
	"time"
)

// Remote is the connection the action invoker drives. One Remote maps to one
// endpoint; connections are not pooled or shared.
type Remote interface {
	// Connect establishes the SSH connection.
	Connect(ctx context.Context) error

	// Close tears down the connection and the SFTP subsystem if open.
	Close() error

	// Run executes a command on the endpoint. A non-zero exit code is not an
	// error; the result carries it. The error is reserved for transport
	// failures where the command outcome is unknown.
	Run(ctx context.Context, cmd string) (*ExecResult, error)

	// RunSudo executes a command under sudo. An empty password assumes
	// NOPASSWD is configured.
	RunSudo(ctx context.Context, cmd string, password string) (*ExecResult, error)

	// WriteFile writes content to a remote path over SFTP with the given
	// mode, creating parent directories as needed.
	WriteFile(ctx context.Context, path string, content []byte, mode uint32) error

	// UploadFile copies a local file to the endpoint over SFTP.
	UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error

	// DownloadFile copies a remote file to the local filesystem over SFTP.
	DownloadFile(ctx context.Context, remotePath, localPath string) error

	// ReadFile reads a remote file over SFTP.
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)

	// Checksum returns the SHA256 checksum of a remote file.
	Checksum(ctx context.Context, remotePath string) (string, error)
}

// ExecResult is the outcome of one remote command.
type ExecResult struct {
	// Stdout is the trimmed standard output.
	Stdout string

	// Stderr is the trimmed standard error.
	Stderr string

	// ExitCode is the command's exit status. -1 when the command was killed
	// by a signal or the session broke before exit.
	ExitCode int

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// TransportError reports a failure of the transport itself, as opposed to a
// command that ran and exited non-zero.
type TransportError struct {
	// Op is the operation that failed ("connect", "exec", "upload").
	Op string

	// Err is the underlying error.
	Err error

	// IsAuthError marks authentication rejections, which retrying never fixes.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
