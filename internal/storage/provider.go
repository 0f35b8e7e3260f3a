// Package storage defines where finalized archive containers go.
// This abstraction lets the capture pipeline stay independent of a specific
// destination (local filesystem, AWS S3, Google Cloud Storage).
package storage

import (
	"context"
	"io"
)

// Sink opens artifacts at a destination.
type Sink interface {
	// Open starts a new, empty artifact under name (a file name for local sinks,
	// an object key for object stores).
	Open(ctx context.Context, name string) (Artifact, error)
}

// Artifact is the single output of one capture run. Commit must be called exactly
// once; it finalizes the artifact and returns a URI for it.
type Artifact interface {
	io.Writer
	Commit(ctx context.Context) (string, error)
}

// Resolver maps a parsed Location onto a Sink.
type Resolver interface {
	Resolve(ctx context.Context, loc Location) (Sink, error)
}
