// Package uuid generates run and record identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues UUIDv7 strings so run IDs and stored rows sort by creation time.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7, falling back to a random v4 if the clock read fails.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err == nil {
		return id.String(), nil
	}
	fallback, fbErr := uuid.NewRandom()
	if fbErr != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return fallback.String(), nil
}
