package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/oklog/ulid/v2"

	"github.com/mbuguanewton/notez/internal/note"
	"github.com/mbuguanewton/notez/internal/search"
)

// SQLiteStore is the on-device note store.
// Safe for concurrent use.
type SQLiteStore struct {
	mu      sync.RWMutex
	db      *sql.DB
	entropy *rand.Rand
}

// schema holds all notes in one table; tags and source are JSON columns.
const schema = `
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    source TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at DESC);
`

// NewSQLiteStore creates an in-memory store. Used by tests and as a scratch
// device store before a data directory is configured.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// newID returns a fresh ULID. Callers must hold the write lock.
func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Create persists a new note. The draft's id is honored when present so the
// layered backend can write the same identity to both stores; otherwise a
// ULID is assigned here. Both timestamps are set to now.
func (s *SQLiteStore) Create(ctx context.Context, draft note.Draft) (*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := draft.ID
	if id == "" {
		id = s.newID()
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

	tags, source, err := marshalJSONColumns(n)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, tags, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Title, n.Content, tags, source, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}

	return n, nil
}

// Update applies a patch to an existing note and refreshes updatedAt.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch note.Patch) (*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(n)
	n.UpdatedAt = time.Now().UnixMilli()
	if n.UpdatedAt < n.CreatedAt {
		n.UpdatedAt = n.CreatedAt
	}

	tags, source, err := marshalJSONColumns(n)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE notes SET title = ?, content = ?, tags = ?, source = ?, updated_at = ?
		WHERE id = ?
	`, n.Title, n.Content, tags, source, n.UpdatedAt, n.ID)
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}

	return n, nil
}

// Get retrieves a note by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, id)
}

func (s *SQLiteStore) getLocked(ctx context.Context, id string) (*note.Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, tags, source, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return n, err
}

// Delete removes a note by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAll returns every note, most recently updated first.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, tags, source, created_at, updated_at
		FROM notes ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*note.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Search filters the full listing through the term matcher.
// An empty or all-stopword query returns everything.
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]*note.Note, error) {
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

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*note.Note, error) {
	var n note.Note
	var tags string
	var source sql.NullString

	if err := row.Scan(&n.ID, &n.Title, &n.Content, &tags, &source, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", n.ID, err)
	}
	if source.Valid && source.String != "" {
		var src note.Source
		if err := json.Unmarshal([]byte(source.String), &src); err != nil {
			return nil, fmt.Errorf("decode source for %s: %w", n.ID, err)
		}
		n.Source = &src
	}

	return &n, nil
}

func marshalJSONColumns(n *note.Note) (tags string, source sql.NullString, err error) {
	t := n.Tags
	if t == nil {
		t = []string{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode tags: %w", err)
	}
	if n.Source != nil {
		sb, err := json.Marshal(n.Source)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encode source: %w", err)
		}
		source = sql.NullString{String: string(sb), Valid: true}
	}
	return string(tb), source, nil
}
