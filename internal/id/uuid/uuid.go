// Package uuid provides ID generation helpers for captures and archive records.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewURN returns a UUID7 in urn:uuid form, as used by WARC-Record-ID and
// WARC-Capture-ID headers.
func (Generator) NewURN() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7 urn: %w", err)
	}
	return id.URN(), nil
}
