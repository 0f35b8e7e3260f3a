package capture

import (
	"context"
	"time"
)

// Fetcher performs one GET, following redirects, and returns the raw exchanges.
// On a transport failure it returns the exchanges completed so far and an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces urn:uuid identifiers for captures and records.
type IDGenerator interface {
	NewURN() (string, error)
}

// Digester computes labelled digests for WARC-Block-Digest.
type Digester interface {
	Hash(data []byte) (string, error)
}
