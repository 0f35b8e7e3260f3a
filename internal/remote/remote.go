// Package remote defines how the dispatcher talks to a capture instance.
package remote

import (
	"context"
	"errors"
)

// ErrCommandFailed marks a remote command that exited non-zero.
var ErrCommandFailed = errors.New("remote command failed")

// ExecResult is the outcome of one remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is one authenticated connection to an instance.
type Session interface {
	// Copy uploads the contents of localDir into remoteDir, creating directories as needed.
	Copy(ctx context.Context, localDir, remoteDir string) error
	// Exec runs command and waits for it, or for ctx to end.
	Exec(ctx context.Context, command string) (ExecResult, error)
	Close() error
}

// Dialer opens sessions to hosts.
type Dialer interface {
	Dial(ctx context.Context, host string) (Session, error)
}
