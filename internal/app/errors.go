package app

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates no book exists at the given identifier.
	ErrNotFound = errors.New("book not found")
	// ErrISBNConflict indicates another book already holds the ISBN.
	ErrISBNConflict = errors.New("isbn already exists")
)

// ValidationError reports every violated input field at once, not just the
// first.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
