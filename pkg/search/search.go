// Package search provides the derived full-text side of the catalog.
//
// The index is a read-optimised projection of the repository, never the
// source of truth: every operation here is idempotent and replayable, so a
// failed write can be re-applied later from repository state.
package search

import (
	"context"

	"bookcatalog/pkg/domain"
)

// MaxResults caps both search and listing result sets.
const MaxResults = 100

// Index defines the search side of the catalog.
type Index interface {
	// EnsureIndex creates the index with its field mapping when missing.
	// Safe to call on every startup.
	EnsureIndex(ctx context.Context) error
	// IndexBook upserts the full document and makes it immediately
	// searchable. Keyed by book ID, so replays cannot create duplicates.
	IndexBook(ctx context.Context, b domain.Book) error
	// UpdateBook applies a partial-document update to an existing entry.
	UpdateBook(ctx context.Context, b domain.Book) error
	// DeleteBook removes the entry. An already-absent entry is not an error.
	DeleteBook(ctx context.Context, id string) error
	// Search returns relevance-ranked hits for the query text, best first,
	// capped at MaxResults.
	Search(ctx context.Context, query string) ([]domain.SearchHit, error)
}
