package store

import (
	"context"
	"errors"

	"bookcatalog/pkg/domain"
)

// ErrDuplicateISBN is returned when a write violates the unique ISBN index.
var ErrDuplicateISBN = errors.New("duplicate isbn")

// Store defines persistence operations for canonical book records. It is the
// source of truth: the search index is rebuilt from it, never the other way
// around.
type Store interface {
	// CreateBook inserts a new record. Returns ErrDuplicateISBN when another
	// book already holds the ISBN.
	CreateBook(ctx context.Context, b domain.Book) error
	// HasISBN reports whether any book holds the given ISBN.
	HasISBN(ctx context.Context, isbn string) (bool, error)
	// GetBook retrieves a book by ID. ok=false when absent.
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	// ListBooks returns up to limit books in creation order.
	ListBooks(ctx context.Context, limit int) ([]domain.Book, error)
	// ReplaceBook overwrites every editable field of the record at id and
	// returns the stored result. ok=false when no record exists.
	ReplaceBook(ctx context.Context, id string, b domain.Book) (domain.Book, bool, error)
	// DeleteBook removes the record at id. ok=false when nothing was deleted.
	DeleteBook(ctx context.Context, id string) (bool, error)
}
