// Package backend layers the remote and local stores behind the uniform
// Store interface. Every operation tries the remote store first; any remote
// failure falls back to the local store, invisible to the caller beyond a
// log line. The two stores are never reconciled: if the remote is down the
// local store may diverge, and when the remote returns no merge is
// attempted. Availability over consistency, last successful writer wins.
package backend

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mbuguanewton/notez/internal/note"
	"github.com/mbuguanewton/notez/internal/store"
)

// Dual is the remote-first, local-fallback store.
type Dual struct {
	remote store.Store
	local  store.Store
	log    *zap.Logger

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewDual creates the layered backend.
func NewDual(remote, local store.Store, logger *zap.Logger) *Dual {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dual{
		remote:  remote,
		local:   local,
		log:     logger,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// newID assigns the client-generated id. No collision detection; ULIDs are
// high-entropy enough for a per-user note store.
func (d *Dual) newID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), d.entropy).String()
}

func (d *Dual) fallback(op string, err error) {
	d.log.Warn("remote store unavailable, using local store",
		zap.String("op", op), zap.Error(err))
}

// GetAll lists notes, remote first.
func (d *Dual) GetAll(ctx context.Context) ([]*note.Note, error) {
	notes, err := d.remote.GetAll(ctx)
	if err == nil {
		return notes, nil
	}
	d.fallback("getAll", err)
	return d.local.GetAll(ctx)
}

// Get retrieves one note, remote first.
func (d *Dual) Get(ctx context.Context, id string) (*note.Note, error) {
	n, err := d.remote.Get(ctx, id)
	if err == nil {
		return n, nil
	}
	d.fallback("get", err)
	return d.local.Get(ctx, id)
}

// Create persists a new note. The id is assigned here when absent so both
// stores would record the same identity for this note.
func (d *Dual) Create(ctx context.Context, draft note.Draft) (*note.Note, error) {
	if draft.ID == "" {
		draft.ID = d.newID()
	}
	n, err := d.remote.Create(ctx, draft)
	if err == nil {
		return n, nil
	}
	d.fallback("create", err)
	return d.local.Create(ctx, draft)
}

// Update applies a patch, remote first.
func (d *Dual) Update(ctx context.Context, id string, patch note.Patch) (*note.Note, error) {
	n, err := d.remote.Update(ctx, id, patch)
	if err == nil {
		return n, nil
	}
	d.fallback("update", err)
	return d.local.Update(ctx, id, patch)
}

// Delete removes a note, remote first.
func (d *Dual) Delete(ctx context.Context, id string) error {
	err := d.remote.Delete(ctx, id)
	if err == nil {
		return nil
	}
	d.fallback("delete", err)
	return d.local.Delete(ctx, id)
}

// Search queries notes, remote first.
func (d *Dual) Search(ctx context.Context, query string) ([]*note.Note, error) {
	notes, err := d.remote.Search(ctx, query)
	if err == nil {
		return notes, nil
	}
	d.fallback("search", err)
	return d.local.Search(ctx, query)
}

// Close closes both stores.
func (d *Dual) Close() error {
	rerr := d.remote.Close()
	lerr := d.local.Close()
	if rerr != nil {
		return rerr
	}
	return lerr
}
