package store

import (
	"context"
	"sync"
	"time"

	"bookcatalog/pkg/domain"
)

// MemoryStore keeps books in-process. Used by tests and local development
// without Postgres. It enforces the same ISBN uniqueness the unique index
// provides in Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[string]domain.Book
	order []string
	isbn  map[string]string // isbn -> book ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books: make(map[string]domain.Book),
		isbn:  make(map[string]string),
	}
}

// CreateBook stores a new book and tracks insertion order.
func (m *MemoryStore) CreateBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.isbn[b.ISBN]; taken {
		return ErrDuplicateISBN
	}
	if _, exists := m.books[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	m.books[b.ID] = b
	m.isbn[b.ISBN] = b.ID
	return nil
}

// HasISBN reports whether any book holds the given ISBN.
func (m *MemoryStore) HasISBN(_ context.Context, isbn string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.isbn[isbn]
	return ok, nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns up to limit books in insertion order.
func (m *MemoryStore) ListBooks(_ context.Context, limit int) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.order))
	for _, id := range m.order {
		if limit > 0 && len(res) >= limit {
			break
		}
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

// ReplaceBook overwrites every editable field at id and returns the stored
// record.
func (m *MemoryStore) ReplaceBook(_ context.Context, id string, b domain.Book) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	if owner, taken := m.isbn[b.ISBN]; taken && owner != id {
		return domain.Book{}, false, ErrDuplicateISBN
	}
	delete(m.isbn, current.ISBN)
	current.Title = b.Title
	current.Author = b.Author
	current.PublicationYear = b.PublicationYear
	current.ISBN = b.ISBN
	current.Thumbnail = b.Thumbnail
	current.Description = b.Description
	current.UpdatedAt = time.Now().UTC()
	m.books[id] = current
	m.isbn[current.ISBN] = id
	return current, true, nil
}

// DeleteBook removes a book.
func (m *MemoryStore) DeleteBook(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return false, nil
	}
	delete(m.books, id)
	delete(m.isbn, b.ISBN)
	for i, bid := range m.order {
		if bid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}
