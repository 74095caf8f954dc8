package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrNotOwned     = errors.New("document not owned by caller")
	ErrInvalidInput = errors.New("invalid document")
)

// Store exposes document lookup for the interview core and HTTP handlers.
type Store interface {
	List(ctx context.Context, ownerID string) ([]Document, error)
	Get(ctx context.Context, id string) (Document, error)
	Add(ctx context.Context, doc Document) (Document, error)
	// ValidateOwned fails unless every id exists and belongs to ownerID.
	ValidateOwned(ctx context.Context, ownerID string, ids []string) error
}

// MemoryStore implements Store with an in-memory map, suitable for MVP.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Document
	order []string
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied documents.
func NewMemoryStore(items []Document) *MemoryStore {
	s := &MemoryStore{items: make(map[string]Document, len(items))}
	for _, item := range items {
		s.items[item.ID] = item
		s.order = append(s.order, item.ID)
	}
	return s
}

// List returns the caller's documents in insertion order.
func (s *MemoryStore) List(_ context.Context, ownerID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		if doc := s.items[id]; doc.OwnerID == ownerID {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Get looks up a document by identifier.
func (s *MemoryStore) Get(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.items[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// Add registers a document and assigns an id when missing.
func (s *MemoryStore) Add(_ context.Context, doc Document) (Document, error) {
	doc.Title = strings.TrimSpace(doc.Title)
	if doc.OwnerID == "" || doc.Title == "" || !doc.Kind.Valid() {
		return Document{}, ErrInvalidInput
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[doc.ID]; exists {
		return Document{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidInput, doc.ID)
	}
	s.items[doc.ID] = doc
	s.order = append(s.order, doc.ID)
	return doc, nil
}

// ValidateOwned checks existence and ownership of every id.
func (s *MemoryStore) ValidateOwned(_ context.Context, ownerID string, ids []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range ids {
		doc, ok := s.items[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if doc.OwnerID != ownerID {
			return fmt.Errorf("%w: %s", ErrNotOwned, id)
		}
	}
	return nil
}
