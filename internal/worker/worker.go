// Package worker runs one work batch on a remote capture instance.
package worker

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/remote"
)

// InstanceLocator resolves an instance id to a reachable address.
type InstanceLocator interface {
	PublicAddress(ctx context.Context, instanceID string) (string, error)
}

// Config describes the instance and the program tree shipped to it.
type Config struct {
	InstanceID     string
	LocalDir       string
	RemoteDir      string
	Binary         string
	TransferFile   string
	OutputLocation string
	ExecTimeout    time.Duration
}

// Batch is one unit of remote work.
type Batch struct {
	ID   string
	URLs []string
	// OutputName overrides the remote capture's container name when set.
	OutputName string
}

// Worker executes the write → resolve → dial → copy → invoke sequence.
type Worker struct {
	locator InstanceLocator
	dialer  remote.Dialer
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(locator InstanceLocator, dialer remote.Dialer, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Binary == "" {
		cfg.Binary = "webarchiver"
	}
	if cfg.TransferFile == "" {
		cfg.TransferFile = "urls.txt"
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 2 * time.Hour
	}
	return &Worker{
		locator: locator,
		dialer:  dialer,
		cfg:     cfg,
		logger:  logger,
	}
}

// Process ships batch to the instance and runs the capture there. The SSH
// connection is closed before Process returns.
func (w *Worker) Process(ctx context.Context, batch Batch) (remote.ExecResult, error) {
	logger := w.logger.With(zap.String("batch_id", batch.ID), zap.String("instance_id", w.cfg.InstanceID))

	transfer, err := w.writeTransferFile(batch.URLs)
	if err != nil {
		return remote.ExecResult{}, err
	}
	logger.Info("wrote transfer file", zap.String("path", transfer), zap.Int("urls", len(batch.URLs)))

	addr, err := w.locator.PublicAddress(ctx, w.cfg.InstanceID)
	if err != nil {
		return remote.ExecResult{}, fmt.Errorf("resolve instance address: %w", err)
	}
	logger.Info("resolved instance address", zap.String("address", addr))

	sess, err := w.dialer.Dial(ctx, addr)
	if err != nil {
		return remote.ExecResult{}, fmt.Errorf("connect to instance: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Debug("ssh close failed", zap.Error(err))
		}
	}()

	if err := sess.Copy(ctx, w.cfg.LocalDir, w.cfg.RemoteDir); err != nil {
		return remote.ExecResult{}, fmt.Errorf("copy program directory: %w", err)
	}
	logger.Info("program directory uploaded", zap.String("remote_dir", w.cfg.RemoteDir))

	command := w.Command(batch)
	execCtx, cancel := context.WithTimeout(ctx, w.cfg.ExecTimeout)
	defer cancel()

	start := time.Now()
	res, err := sess.Exec(execCtx, command)
	metrics.ObserveRemoteExec(time.Since(start))
	logger.Info("remote capture finished",
		zap.String("command", command),
		zap.Int("exit_code", res.ExitCode),
		zap.String("stdout", res.Stdout),
		zap.String("stderr", res.Stderr),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		return res, fmt.Errorf("invoke capture: %w", err)
	}
	return res, nil
}

// Command renders the remote capture invocation with shell quoting.
func (w *Worker) Command(batch Batch) string {
	args := []string{
		path.Join(w.cfg.RemoteDir, w.cfg.Binary),
		"capture",
		"--input_urls", path.Join(w.cfg.RemoteDir, w.cfg.TransferFile),
		"--output_location", w.cfg.OutputLocation,
	}
	if batch.OutputName != "" {
		args = append(args, "--output_name", batch.OutputName)
	}
	return shellquote.Join(args...)
}

// writeTransferFile replaces the transfer file inside the local program
// directory so the recursive copy carries it along.
func (w *Worker) writeTransferFile(urls []string) (string, error) {
	target := filepath.Join(w.cfg.LocalDir, w.cfg.TransferFile)
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(u)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(target, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("write transfer file %s: %w", target, err)
	}
	return target, nil
}
