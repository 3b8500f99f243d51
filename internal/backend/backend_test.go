package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbuguanewton/notez/internal/note"
	"github.com/mbuguanewton/notez/internal/store"
)

// downStore simulates an unreachable remote: every operation fails.
type downStore struct {
	calls int
}

var errDown = errors.New("connection refused")

func (d *downStore) GetAll(ctx context.Context) ([]*note.Note, error) {
	d.calls++
	return nil, errDown
}
func (d *downStore) Get(ctx context.Context, id string) (*note.Note, error) {
	d.calls++
	return nil, errDown
}
func (d *downStore) Create(ctx context.Context, draft note.Draft) (*note.Note, error) {
	d.calls++
	return nil, errDown
}
func (d *downStore) Update(ctx context.Context, id string, patch note.Patch) (*note.Note, error) {
	d.calls++
	return nil, errDown
}
func (d *downStore) Delete(ctx context.Context, id string) error {
	d.calls++
	return errDown
}
func (d *downStore) Search(ctx context.Context, query string) ([]*note.Note, error) {
	d.calls++
	return nil, errDown
}
func (d *downStore) Close() error { return nil }

func TestFallbackWritesToLocalStore(t *testing.T) {
	down := &downStore{}
	local := store.NewMemoryStore()
	dual := NewDual(down, local, nil)
	ctx := context.Background()

	n, err := dual.Create(ctx, note.Draft{Title: "offline note"})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)

	// The write landed locally and reads keep working through the outage.
	notes, err := dual.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "offline note", notes[0].Title)
	assert.Equal(t, 1, local.Count())
}

func TestRemotePreferredWhenHealthy(t *testing.T) {
	remote := store.NewMemoryStore()
	local := store.NewMemoryStore()
	dual := NewDual(remote, local, nil)
	ctx := context.Background()

	_, err := dual.Create(ctx, note.Draft{Title: "online note"})
	require.NoError(t, err)

	// The local store is untouched; no write-through, no reconciliation.
	assert.Equal(t, 1, remote.Count())
	assert.Equal(t, 0, local.Count())
}

func TestAssignsIDBeforeAttemptingRemote(t *testing.T) {
	down := &downStore{}
	local := store.NewMemoryStore()
	dual := NewDual(down, local, nil)

	n, err := dual.Create(context.Background(), note.Draft{Title: "x"})
	require.NoError(t, err)
	// The id came from the backend, not from the store that happened to
	// answer; a given Create writes one identity no matter which store wins.
	assert.NotEmpty(t, n.ID)

	got, err := local.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
}

func TestLocalFailureSurfaces(t *testing.T) {
	dual := NewDual(&downStore{}, store.NewMemoryStore(), nil)

	// Nothing was ever stored; the local miss is a genuine error.
	_, err := dual.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEveryOperationFallsBack(t *testing.T) {
	down := &downStore{}
	local := store.NewMemoryStore()
	dual := NewDual(down, local, nil)
	ctx := context.Background()

	n, err := dual.Create(ctx, note.Draft{Title: "t"})
	require.NoError(t, err)

	content := "c"
	_, err = dual.Update(ctx, n.ID, note.Patch{Content: &content})
	require.NoError(t, err)

	_, err = dual.Get(ctx, n.ID)
	require.NoError(t, err)

	_, err = dual.Search(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, dual.Delete(ctx, n.ID))

	// One remote attempt per operation, none retried.
	assert.Equal(t, 5, down.calls)
}
