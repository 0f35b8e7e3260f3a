// Package sha256 computes labelled SHA-256 digests for WARC block and payload headers.
package sha256

import (
	"crypto/sha256"
	"encoding/base32"
)

// Label prefixes every digest so readers know the algorithm.
const Label = "sha256:"

// Hasher implements warc.Digester using SHA-256 with base32 encoding,
// the encoding WARC tooling conventionally uses for digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns "sha256:<BASE32>" for data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Label + base32.StdEncoding.EncodeToString(sum[:]), nil
}
