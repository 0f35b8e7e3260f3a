package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"github.com/JakeFAU/webarchiver/internal/remote"
)

// Session is an open SSH connection to one instance.
type Session struct {
	client *gossh.Client
	addr   string
}

// Copy uploads every file under localDir into remoteDir over SFTP, preserving
// relative paths and permission bits.
func (s *Session) Copy(ctx context.Context, localDir, remoteDir string) error {
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("start sftp on %s: %w", s.addr, err)
	}
	defer client.Close() //nolint:errcheck // session teardown

	return copyTree(ctx, sftpFS{client}, localDir, remoteDir)
}

// Exec runs command, collecting stdout and stderr. When ctx ends first the
// remote process is signalled and the session closed; output received up to
// that point is still returned.
func (s *Session) Exec(ctx context.Context, command string) (remote.ExecResult, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return remote.ExecResult{}, fmt.Errorf("open ssh session on %s: %w", s.addr, err)
	}
	defer sess.Close() //nolint:errcheck // may already be closed

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if err := sess.Start(command); err != nil {
		return remote.ExecResult{}, fmt.Errorf("start remote command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(gossh.SIGKILL)
		_ = sess.Close()
		// Wait drains the output copiers, so the buffers are safe to read after it.
		<-done
		res := remote.ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
		return res, fmt.Errorf("remote command on %s: %w", s.addr, ctx.Err())
	case err := <-done:
		res := remote.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		var exitErr *gossh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, fmt.Errorf("%w: exit status %d", remote.ErrCommandFailed, res.ExitCode)
		}
		if err != nil {
			res.ExitCode = -1
			return res, fmt.Errorf("wait remote command: %w", err)
		}
		return res, nil
	}
}

// Close closes the SSH connection.
func (s *Session) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close ssh connection %s: %w", s.addr, err)
	}
	return nil
}

type fileSystem interface {
	MkdirAll(dir string) error
	Create(name string) (io.WriteCloser, error)
	Chmod(name string, mode os.FileMode) error
}

type sftpFS struct{ c *sftp.Client }

func (f sftpFS) MkdirAll(dir string) error { return f.c.MkdirAll(dir) }

func (f sftpFS) Create(name string) (io.WriteCloser, error) { return f.c.Create(name) }

func (f sftpFS) Chmod(name string, mode os.FileMode) error { return f.c.Chmod(name, mode) }

func copyTree(ctx context.Context, dst fileSystem, localDir, remoteDir string) error {
	info, err := os.Stat(localDir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", localDir)
	}
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // caller sees the context error
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return fmt.Errorf("relative path %s: %w", p, err)
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))
		if d.IsDir() {
			if err := dst.MkdirAll(target); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(dst, p, target)
	})
}

func copyFile(dst fileSystem, src, target string) error {
	// #nosec G304 -- walking the operator-supplied program directory.
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close() //nolint:errcheck // read-only

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	out, err := dst.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("upload %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}
	if err := dst.Chmod(target, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	return nil
}
