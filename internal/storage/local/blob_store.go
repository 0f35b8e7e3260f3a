// Package local implements a local filesystem archive sink.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/webarchiver/internal/storage"
)

// Config captures the parameters for the local filesystem sink.
type Config struct {
	// BaseDir is the directory archive containers are written into.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Sink writes artifacts to the local filesystem.
type Sink struct {
	baseDir string
}

// New creates a new local filesystem-backed sink, creating BaseDir if needed.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &Sink{baseDir: cfg.BaseDir}, nil
}

// Open creates (or truncates) name inside the base directory, creating any
// intermediate directories name carries.
func (s *Sink) Open(_ context.Context, name string) (storage.Artifact, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name is required")
	}

	fullPath := filepath.Join(s.baseDir, name)

	// Clean the path and verify it's within baseDir to prevent path traversal.
	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(cleanFullPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	// #nosec G304 -- path is confined to baseDir above.
	f, err := os.OpenFile(cleanFullPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	return &fileArtifact{file: f, path: cleanFullPath}, nil
}

type fileArtifact struct {
	file *os.File
	path string
}

func (a *fileArtifact) Write(p []byte) (int, error) {
	if a.file == nil {
		return 0, storage.ErrCommitted
	}
	return a.file.Write(p)
}

// Commit flushes and closes the file and returns a file:// URI.
func (a *fileArtifact) Commit(_ context.Context) (string, error) {
	if a.file == nil {
		return "", storage.ErrCommitted
	}
	f := a.file
	a.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to flush archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive file: %w", err)
	}
	return fmt.Sprintf("file://%s", a.path), nil
}
