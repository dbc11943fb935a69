// Package app orchestrates every book mutation across the repository and
// the search index.
//
// The two stores are written without a transaction. The policy is: the
// repository write happens first and is authoritative; an index failure
// after a committed repository write never rolls it back and never
// masquerades as a clean success. The result carries IndexPending and the
// write intent goes to the outbox for replay.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookcatalog/internal/util"
	"bookcatalog/pkg/domain"
	"bookcatalog/pkg/outbox"
	"bookcatalog/pkg/search"
	"bookcatalog/pkg/store"
)

// listLimit caps the listing result set, matching the search cap.
const listLimit = search.MaxResults

// Outbox queues index writes for later replay when the search index is
// unreachable.
type Outbox interface {
	Enqueue(ctx context.Context, op, bookID string) (outbox.Intent, error)
}

// App is the book service core wiring together the repository and the index.
type App struct {
	store  store.Store
	index  search.Index
	outbox Outbox
}

// Config wires required dependencies.
type Config struct {
	Store  store.Store
	Index  search.Index
	Outbox Outbox
}

// New constructs the service.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Index == nil {
		return nil, errors.New("search index required")
	}
	if cfg.Outbox == nil {
		return nil, errors.New("outbox required")
	}
	return &App{store: cfg.Store, index: cfg.Index, outbox: cfg.Outbox}, nil
}

// WriteResult reports a mutation outcome. IndexPending is true when the
// repository write succeeded but the search index write did not and was
// queued for replay.
type WriteResult struct {
	Book         domain.Book
	IndexPending bool
}

// CreateBook validates input, enforces ISBN uniqueness, persists the book,
// then indexes it with immediate visibility.
func (a *App) CreateBook(ctx context.Context, in BookInput) (WriteResult, error) {
	if verr := validateInput(in); verr != nil {
		return WriteResult{}, verr
	}
	isbn := strings.TrimSpace(in.ISBN)
	exists, err := a.store.HasISBN(ctx, isbn)
	if err != nil {
		return WriteResult{}, fmt.Errorf("check isbn: %w", err)
	}
	if exists {
		return WriteResult{}, ErrISBNConflict
	}

	now := time.Now().UTC()
	book := bookFromInput(in)
	book.ID = uuid.NewString()
	book.CreatedAt = now
	book.UpdatedAt = now

	if err := a.store.CreateBook(ctx, book); err != nil {
		if errors.Is(err, store.ErrDuplicateISBN) {
			// Lost the race between the pre-check and the insert. The unique
			// index is the authoritative conflict signal.
			return WriteResult{}, ErrISBNConflict
		}
		return WriteResult{}, fmt.Errorf("create book: %w", err)
	}
	if err := a.index.IndexBook(ctx, book); err != nil {
		a.deferIndexWrite(ctx, outbox.OpUpsert, book.ID, err)
		return WriteResult{Book: book, IndexPending: true}, nil
	}
	return WriteResult{Book: book}, nil
}

// GetBook reads from the repository, not the index: point reads must see
// exactly what was written even while an index entry is stale or missing.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	return book, nil
}

// ListBooks returns up to 100 books from the repository in creation order.
func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	books, err := a.store.ListBooks(ctx, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// UpdateBook replaces the full field set at id and propagates the change to
// the index as a partial-document update.
func (a *App) UpdateBook(ctx context.Context, id string, in BookInput) (WriteResult, error) {
	if verr := validateInput(in); verr != nil {
		return WriteResult{}, verr
	}
	updated, ok, err := a.store.ReplaceBook(ctx, id, bookFromInput(in))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateISBN) {
			return WriteResult{}, ErrISBNConflict
		}
		return WriteResult{}, fmt.Errorf("update book: %w", err)
	}
	if !ok {
		return WriteResult{}, ErrNotFound
	}
	if err := a.index.UpdateBook(ctx, updated); err != nil {
		a.deferIndexWrite(ctx, outbox.OpUpsert, id, err)
		return WriteResult{Book: updated, IndexPending: true}, nil
	}
	return WriteResult{Book: updated}, nil
}

// DeleteBook removes the repository record and its index entry. An index
// failure is reported through indexPending, never swallowed.
func (a *App) DeleteBook(ctx context.Context, id string) (indexPending bool, err error) {
	ok, err := a.store.DeleteBook(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete book: %w", err)
	}
	if !ok {
		return false, ErrNotFound
	}
	if err := a.index.DeleteBook(ctx, id); err != nil {
		a.deferIndexWrite(ctx, outbox.OpDelete, id, err)
		return true, nil
	}
	return false, nil
}

// SearchBooks runs the ranked full-text query against the index. This is
// the only read served by the index.
func (a *App) SearchBooks(ctx context.Context, query string) ([]domain.SearchHit, error) {
	hits, err := a.index.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return hits, nil
}

// ReplayIndexIntent re-applies a queued index write from current repository
// state. Replays are idempotent: an upsert for a book deleted since turns
// into an index delete, and deleting an absent entry is a no-op.
func (a *App) ReplayIndexIntent(ctx context.Context, in outbox.Intent) error {
	switch in.Op {
	case outbox.OpDelete:
		return a.index.DeleteBook(ctx, in.BookID)
	case outbox.OpUpsert:
		book, ok, err := a.store.GetBook(ctx, in.BookID)
		if err != nil {
			return err
		}
		if !ok {
			return a.index.DeleteBook(ctx, in.BookID)
		}
		return a.index.IndexBook(ctx, book)
	default:
		return fmt.Errorf("unknown index op %q", in.Op)
	}
}

// deferIndexWrite records a failed index write for replay. Losing the intent
// on top of the index failure is logged loudly but still does not undo the
// repository write.
func (a *App) deferIndexWrite(ctx context.Context, op, bookID string, cause error) {
	logger := util.LoggerFromContext(ctx)
	logger.Warn("search index write failed, queuing for replay",
		"op", op, "book_id", bookID, "err", cause)
	if _, err := a.outbox.Enqueue(ctx, op, bookID); err != nil {
		logger.Error("failed to queue index replay, index entry is stale",
			"op", op, "book_id", bookID, "err", err)
	}
}

func bookFromInput(in BookInput) domain.Book {
	year := 0
	if in.PublicationYear != nil {
		year = *in.PublicationYear
	}
	return domain.Book{
		Title:           strings.TrimSpace(in.Title),
		Author:          strings.TrimSpace(in.Author),
		PublicationYear: year,
		ISBN:            strings.TrimSpace(in.ISBN),
		Thumbnail:       strings.TrimSpace(in.Thumbnail),
		Description:     strings.TrimSpace(in.Description),
	}
}
