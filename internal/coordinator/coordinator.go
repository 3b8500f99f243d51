// Package coordinator is the long-lived message router. It accepts the
// enumerated request types over the bus, dispatches them through a handler
// registration table, persists through the dual backend, and owns the
// page-note merge logic for captured selections.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mbuguanewton/notez/internal/message"
	"github.com/mbuguanewton/notez/internal/note"
	"github.com/mbuguanewton/notez/internal/settings"
	"github.com/mbuguanewton/notez/internal/store"
)

// handlerFunc processes one request's payload and returns the reply data.
type handlerFunc func(ctx context.Context, req message.Request) (any, error)

// Coordinator routes requests to handlers. It is a single logical
// serialization point when driven from the bus loop, but applies no locking
// of its own: two concurrent ADD_SELECTION_TO_PAGE_NOTE calls for the same
// url can both read the same pre-image and the second write wins. That
// lost-update window is a documented property of the design, not a bug.
type Coordinator struct {
	backend  store.Store
	settings *settings.Manager
	log      *zap.Logger
	handlers map[message.Type]handlerFunc
	now      func() int64
}

// New creates a coordinator over the given backend and settings. Called once
// per process start; settings changes go through the Reload hook rather than
// a rebuild.
func New(backend store.Store, mgr *settings.Manager, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		backend:  backend,
		settings: mgr,
		log:      logger,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	c.handlers = map[message.Type]handlerFunc{
		message.TypeSaveNote:               c.handleSaveNote,
		message.TypeUpdateNote:             c.handleUpdateNote,
		message.TypeDeleteNote:             c.handleDeleteNote,
		message.TypeGetNotes:               c.handleGetNotes,
		message.TypeSearchNotes:            c.handleSearchNotes,
		message.TypeAddSelectionToPageNote: c.handleAddSelection,
		message.TypeCheckURLEnabled:        c.handleCheckURLEnabled,
		message.TypeSettingsUpdated:        c.handleSettingsUpdated,
	}
	return c
}

// Handle processes one request and always produces exactly one reply.
// Backend errors are converted to {success:false} here; nothing throws
// across the channel boundary.
func (c *Coordinator) Handle(ctx context.Context, req message.Request) message.Response {
	h, ok := c.handlers[req.Type]
	if !ok {
		c.log.Warn("unknown request type", zap.String("type", string(req.Type)))
		return message.Failure("unknown request type: " + string(req.Type))
	}

	data, err := h(ctx, req)
	if err != nil {
		c.log.Error("request failed",
			zap.String("type", string(req.Type)), zap.Error(err))
		return message.Failure(err.Error())
	}
	return message.Success(data)
}

func (c *Coordinator) handleSaveNote(ctx context.Context, req message.Request) (any, error) {
	var draft note.Draft
	if err := json.Unmarshal(req.Data, &draft); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if strings.TrimSpace(draft.Title) == "" {
		return nil, errors.New("title is required")
	}
	return c.backend.Create(ctx, draft)
}

func (c *Coordinator) handleUpdateNote(ctx context.Context, req message.Request) (any, error) {
	if req.NoteID == "" {
		return nil, errors.New("noteId is required")
	}
	var patch note.Patch
	if err := json.Unmarshal(req.Data, &patch); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, errors.New("title cannot be empty")
	}
	return c.backend.Update(ctx, req.NoteID, patch)
}

func (c *Coordinator) handleDeleteNote(ctx context.Context, req message.Request) (any, error) {
	if req.NoteID == "" {
		return nil, errors.New("noteId is required")
	}
	if err := c.backend.Delete(ctx, req.NoteID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Coordinator) handleGetNotes(ctx context.Context, req message.Request) (any, error) {
	notes, err := c.backend.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []*note.Note{}
	}
	return notes, nil
}

func (c *Coordinator) handleSearchNotes(ctx context.Context, req message.Request) (any, error) {
	notes, err := c.backend.Search(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []*note.Note{}
	}
	return notes, nil
}

// handleAddSelection merges a capture into the page note for its url:
// read the full listing, find the page note, append a block and update, or
// create a fresh seeded note. Read and write are not transactional against
// each other; see the type comment.
func (c *Coordinator) handleAddSelection(ctx context.Context, req message.Request) (any, error) {
	var capture note.SelectionCapture
	if err := json.Unmarshal(req.Data, &capture); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if strings.TrimSpace(capture.Text) == "" {
		return nil, errors.New("selection text is empty")
	}
	if capture.SourceURL == "" {
		return nil, errors.New("selection has no source url")
	}
	if capture.CapturedAt == 0 {
		capture.CapturedAt = c.now()
	}

	notes, err := c.backend.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	if existing := note.FindPageNote(notes, capture.SourceURL); existing != nil {
		content := existing.Content + capture.Block()
		n, err := c.backend.Update(ctx, existing.ID, note.Patch{Content: &content})
		if err != nil {
			return nil, err
		}
		c.log.Info("selection appended to page note",
			zap.String("noteId", n.ID), zap.String("url", capture.SourceURL))
		return n, nil
	}

	n, err := c.backend.Create(ctx, capture.SeedDraft())
	if err != nil {
		return nil, err
	}
	c.log.Info("page note created",
		zap.String("noteId", n.ID), zap.String("url", capture.SourceURL))
	return n, nil
}

func (c *Coordinator) handleCheckURLEnabled(ctx context.Context, req message.Request) (any, error) {
	var payload message.CheckURLPayload
	if err := json.Unmarshal(req.Data, &payload); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if payload.URL == "" {
		return nil, errors.New("url is required")
	}
	return message.EnabledPayload{Enabled: c.settings.URLEnabled(payload.URL)}, nil
}

// handleSettingsUpdated is the coordinator's reinitialize hook: re-read the
// settings file and fan the new values out to subscribers (agents re-check
// their gate through CHECK_URL_ENABLED).
func (c *Coordinator) handleSettingsUpdated(ctx context.Context, req message.Request) (any, error) {
	if err := c.settings.Reload(); err != nil {
		return nil, err
	}
	return nil, nil
}
