// Package remote implements the note Store against the remote HTTP API.
// Any network error or non-2xx status is surfaced as an error; the layered
// backend turns that into a transparent fallback to the local store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbuguanewton/notez/internal/note"
	"github.com/mbuguanewton/notez/internal/store"
)

// Client talks to the remote note API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// errorBody matches the API's error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// do runs one request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("remote: %s %s: %w", method, path, store.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if json.NewDecoder(resp.Body).Decode(&eb) == nil && eb.Error != "" {
			return fmt.Errorf("remote: %s %s: status %d: %s", method, path, resp.StatusCode, eb.Error)
		}
		return fmt.Errorf("remote: %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}

// GetAll lists every note, most recently updated first.
func (c *Client) GetAll(ctx context.Context) ([]*note.Note, error) {
	var notes []*note.Note
	if err := c.do(ctx, http.MethodGet, "/notes", nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Get retrieves one note by id.
func (c *Client) Get(ctx context.Context, id string) (*note.Note, error) {
	var n note.Note
	if err := c.do(ctx, http.MethodGet, "/notes/"+url.PathEscape(id), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Create persists a new note.
func (c *Client) Create(ctx context.Context, draft note.Draft) (*note.Note, error) {
	var n note.Note
	if err := c.do(ctx, http.MethodPost, "/notes", draft, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Update applies a patch to a note.
func (c *Client) Update(ctx context.Context, id string, patch note.Patch) (*note.Note, error) {
	var n note.Note
	if err := c.do(ctx, http.MethodPut, "/notes/"+url.PathEscape(id), patch, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Delete removes a note.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notes/"+url.PathEscape(id), nil, nil)
}

// Search runs a server-side query.
func (c *Client) Search(ctx context.Context, query string) ([]*note.Note, error) {
	var notes []*note.Note
	path := "/notes?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (c *Client) Close() error { return nil }
