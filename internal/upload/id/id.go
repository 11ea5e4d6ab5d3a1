// Package id provides unique identifier generation for uploads.
package id

import (
	"errors"

	"github.com/google/uuid"
)

// ErrInvalid is returned when a string is not a canonical upload identifier.
var ErrInvalid = errors.New("id: invalid upload identifier")

// Generate creates a new random upload identifier.
// Format: lower-case hyphenated UUIDv4
// Example: 3f1c2a9e-8d4b-4c6f-9a7e-2b5d1e0f4a3c
func Generate() string {
	return uuid.NewString()
}

// Validate reports whether s is a canonical identifier as produced by Generate.
// Storage keys are derived from identifiers, so anything else is rejected.
func Validate(s string) error {
	parsed, err := uuid.Parse(s)
	if err != nil || parsed.String() != s {
		return ErrInvalid
	}
	return nil
}
