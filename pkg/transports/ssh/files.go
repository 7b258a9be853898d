package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// sftpSession wraps the SFTP subsystem on top of an established connection.
type sftpSession struct {
	client *sftp.Client
}

func (s *sftpSession) close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

// sftpClient lazily opens the SFTP subsystem, reusing it across transfers on
// the same connection.
func (c *Client) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp != nil {
		return c.sftp.client, nil
	}
	if c.conn == nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("not connected")}
	}
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("failed to open sftp subsystem: %w", err)}
	}
	c.sftp = &sftpSession{client: client}
	return client, nil
}

// WriteFile writes content to a remote path with the given mode, creating
// parent directories as needed.
func (c *Client) WriteFile(ctx context.Context, remotePath string, content []byte, mode uint32) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	client, err := c.sftpClient()
	if err != nil {
		return err
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return &TransportError{Op: "write", Err: fmt.Errorf("failed to create %s: %w", dir, err)}
		}
	}

	f, err := client.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("failed to create %s: %w", remotePath, err)}
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("failed to write %s: %w", remotePath, err)}
	}
	if err := client.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return &TransportError{Op: "write", Err: fmt.Errorf("failed to chmod %s: %w", remotePath, err)}
	}

	log.Debug().
		Str("path", remotePath).
		Int("bytes", len(content)).
		Msg("wrote remote file")
	return nil
}

// UploadFile copies a local file to the endpoint.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	client, err := c.sftpClient()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to open %s: %w", localPath, err)}
	}
	defer src.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create %s: %w", dir, err)}
		}
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create %s: %w", remotePath, err)}
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to copy to %s: %w", remotePath, err)}
	}
	if err := client.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to chmod %s: %w", remotePath, err)}
	}

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", n).
		Msg("uploaded file")
	return nil
}

// DownloadFile copies a remote file to the local filesystem.
func (c *Client) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	client, err := c.sftpClient()
	if err != nil {
		return err
	}

	src, err := client.Open(remotePath)
	if err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to open %s: %w", remotePath, err)}
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to create %s: %w", localPath, err)}
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return &TransportError{Op: "download", Err: fmt.Errorf("failed to copy from %s: %w", remotePath, err)}
	}

	log.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", n).
		Msg("downloaded file")
	return nil
}

// ReadFile reads a remote file into memory.
func (c *Client) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	client, err := c.sftpClient()
	if err != nil {
		return nil, err
	}

	f, err := client.Open(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to open %s: %w", remotePath, err)}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to read %s: %w", remotePath, err)}
	}
	return data, nil
}

// Checksum returns the SHA256 checksum of a remote file, computed over SFTP
// so it works on hosts without sha256sum installed.
func (c *Client) Checksum(ctx context.Context, remotePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TransportError{Op: "checksum", Err: err}
	}
	client, err := c.sftpClient()
	if err != nil {
		return "", err
	}

	f, err := client.Open(remotePath)
	if err != nil {
		return "", &TransportError{Op: "checksum", Err: fmt.Errorf("failed to open %s: %w", remotePath, err)}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &TransportError{Op: "checksum", Err: fmt.Errorf("failed to hash %s: %w", remotePath, err)}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
