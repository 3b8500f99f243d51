// Package store provides note persistence behind one uniform interface.
// SQLiteStore is the on-device store; internal/remote implements the same
// interface against the remote API, and internal/backend layers the two.
package store

import (
	"context"
	"errors"

	"github.com/mbuguanewton/notez/internal/note"
)

// ErrNotFound is returned when an id does not resolve to a note.
var ErrNotFound = errors.New("note not found")

// Store defines uniform note persistence. Semantics are identical no matter
// which physical store answers:
//   - GetAll returns all notes sorted by updatedAt descending.
//   - Create assigns the id when the draft carries none, and always assigns
//     timestamps at persistence time.
//   - Update applies the patch and refreshes updatedAt.
//   - Search matches query terms against title, content, and tags.
type Store interface {
	GetAll(ctx context.Context) ([]*note.Note, error)
	Get(ctx context.Context, id string) (*note.Note, error)
	Create(ctx context.Context, draft note.Draft) (*note.Note, error)
	Update(ctx context.Context, id string, patch note.Patch) (*note.Note, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string) ([]*note.Note, error)

	Close() error
}
