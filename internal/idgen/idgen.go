// Package idgen mints the opaque 128-bit identifiers used throughout the
// store: task, execution, span, pattern, adaptation, and reward ids are all
// textual UUIDs, the same convention the teacher uses for agent and task ids.
package idgen

import "github.com/google/uuid"

// New mints a fresh identifier.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
