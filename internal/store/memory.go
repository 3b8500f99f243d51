package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mbuguanewton/notez/internal/note"
	"github.com/mbuguanewton/notez/internal/search"
)

// MemoryStore keeps notes in a map. It backs the remote API service in tests
// and serves as a throwaway device store when no data directory is set.
// Thread-safe for concurrent access.
type MemoryStore struct {
	mu      sync.RWMutex
	notes   map[string]*note.Note
	entropy *rand.Rand
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes:   make(map[string]*note.Note),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Create persists a new note, assigning a ULID when the draft has no id.
func (s *MemoryStore) Create(ctx context.Context, draft note.Draft) (*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := draft.ID
	if id == "" {
		id = ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
	}
	now := time.Now().UnixMilli()

	n := &note.Note{
		ID:        id,
		Title:     draft.Title,
		Content:   draft.Content,
		Tags:      append([]string(nil), draft.Tags...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if draft.Source != nil {
		src := *draft.Source
		n.Source = &src
	}

	s.notes[n.ID] = n
	return n.Clone(), nil
}

// Update applies a patch and refreshes updatedAt.
func (s *MemoryStore) Update(ctx context.Context, id string, patch note.Patch) (*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[id]
	if !ok {
		return nil, ErrNotFound
	}

	patch.Apply(n)
	n.UpdatedAt = time.Now().UnixMilli()
	if n.UpdatedAt < n.CreatedAt {
		n.UpdatedAt = n.CreatedAt
	}
	return n.Clone(), nil
}

// Get retrieves a note by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

// Delete removes a note by id.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes[id]; !ok {
		return ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

// GetAll returns every note, most recently updated first.
func (s *MemoryStore) GetAll(ctx context.Context) ([]*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notes := make([]*note.Note, 0, len(s.notes))
	for _, n := range s.notes {
		notes = append(notes, n.Clone())
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].UpdatedAt != notes[j].UpdatedAt {
			return notes[i].UpdatedAt > notes[j].UpdatedAt
		}
		return notes[i].ID > notes[j].ID
	})
	return notes, nil
}

// Search filters the full listing through the term matcher.
func (s *MemoryStore) Search(ctx context.Context, query string) ([]*note.Note, error) {
	notes, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	m, err := search.NewMatcher(query)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}

	var out []*note.Note
	for _, n := range notes {
		if m.Match(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Count returns the number of stored notes.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

// Close is a no-op; MemoryStore holds no external resources.
func (s *MemoryStore) Close() error { return nil }
