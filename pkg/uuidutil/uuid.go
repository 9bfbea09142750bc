// Package uuidutil generates the random identifiers used as lock owner ids.
package uuidutil

import "github.com/google/uuid"

// NewV4 generates a random UUID v4 string.
// Panics if the random source fails, which only happens on a broken system.
func NewV4() string {
	return uuid.Must(uuid.NewRandom()).String()
}

// IsValid reports whether s parses as a UUID.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
