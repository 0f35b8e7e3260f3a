// Package memory keeps archive artifacts in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/webarchiver/internal/storage"
)

// Sink stores committed artifacts in-memory and returns pseudo URIs.
type Sink struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory sink.
func New() *Sink {
	return &Sink{data: make(map[string][]byte)}
}

// Open returns a buffered artifact stored under name on commit.
func (s *Sink) Open(_ context.Context, name string) (storage.Artifact, error) {
	return storage.NewBufferedArtifact(func(_ context.Context, body io.Reader, _ int64) (string, error) {
		byteData, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("failed to read data from reader: %w", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.data[name] = byteData
		return fmt.Sprintf("memory://%s", name), nil
	}), nil
}

// Get returns a copy of a committed artifact.
func (s *Sink) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
