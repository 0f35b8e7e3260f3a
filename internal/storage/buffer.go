package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// UploadFunc receives the complete artifact content positioned at offset zero.
type UploadFunc func(ctx context.Context, body io.Reader, size int64) (string, error)

// BufferedArtifact accumulates an artifact in memory and hands it to an upload
// function on commit. Object-store sinks build on it.
type BufferedArtifact struct {
	buf       bytes.Buffer
	upload    UploadFunc
	committed bool
}

// NewBufferedArtifact returns an empty artifact that calls upload on Commit.
func NewBufferedArtifact(upload UploadFunc) *BufferedArtifact {
	return &BufferedArtifact{upload: upload}
}

// Write appends to the in-memory buffer.
func (b *BufferedArtifact) Write(p []byte) (int, error) {
	if b.committed {
		return 0, ErrCommitted
	}
	return b.buf.Write(p)
}

// Commit uploads the whole buffer from its start.
func (b *BufferedArtifact) Commit(ctx context.Context) (string, error) {
	if b.committed {
		return "", ErrCommitted
	}
	b.committed = true
	data := b.buf.Bytes()
	return b.upload(ctx, bytes.NewReader(data), int64(len(data)))
}

// ErrCommitted is returned when an artifact is written or committed after Commit.
var ErrCommitted = errors.New("artifact already committed")
