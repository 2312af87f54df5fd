// Package uuid provides job ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 job IDs, optionally prefixed.
type Generator struct {
	prefix string
}

// New creates a Generator. A non-empty prefix is joined to each ID with "-".
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a UUID7 string.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "-" + id.String(), nil
}
