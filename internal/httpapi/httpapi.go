// Package httpapi serves the remote note contract over HTTP, backed by any
// Store. It is the server side of internal/remote and runs standalone as
// `notezd api`.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mbuguanewton/notez/internal/note"
	"github.com/mbuguanewton/notez/internal/store"
)

type api struct {
	store store.Store
	log   *zap.Logger
}

// NewHandler builds the /notes handler over the given store.
func NewHandler(st store.Store, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &api{store: st, log: logger}

	mux := http.NewServeMux()

	// /notes (create, list, search)
	mux.HandleFunc("/notes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			a.create(w, r)
		case http.MethodGet:
			a.list(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// /notes/{id} (get, update, delete)
	mux.HandleFunc("/notes/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/notes/")
		if id == "" || strings.Contains(id, "/") {
			a.writeError(w, http.StatusNotFound, "not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			a.get(w, r, id)
		case http.MethodPut:
			a.update(w, r, id)
		case http.MethodDelete:
			a.delete(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	return mux
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("encode response", zap.Error(err))
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *api) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	a.log.Error("store failure", zap.Error(err))
	a.writeError(w, http.StatusInternalServerError, err.Error())
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	var notes []*note.Note
	var err error
	if q := r.URL.Query().Get("q"); q != "" {
		notes, err = a.store.Search(r.Context(), q)
	} else {
		notes, err = a.store.GetAll(r.Context())
	}
	if err != nil {
		a.storeError(w, err)
		return
	}
	if notes == nil {
		notes = []*note.Note{}
	}
	a.writeJSON(w, http.StatusOK, notes)
}

func (a *api) get(w http.ResponseWriter, r *http.Request, id string) {
	n, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, n)
}

func (a *api) create(w http.ResponseWriter, r *http.Request) {
	var draft note.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		a.writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	n, err := a.store.Create(r.Context(), draft)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, n)
}

func (a *api) update(w http.ResponseWriter, r *http.Request, id string) {
	var patch note.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		a.writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	n, err := a.store.Update(r.Context(), id, patch)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, n)
}

func (a *api) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.store.Delete(r.Context(), id); err != nil {
		a.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
