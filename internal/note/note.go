// Package note defines the note data model shared by every store and the
// coordinator. Notes are plain values; all persistence lives in internal/store.
package note

import (
	"html"
	"time"
)

// PageTag marks a note as the aggregation point for selections captured
// from a single webpage.
const PageTag = "web-page"

// Source records where a page-derived note came from.
// Present only on notes created by selection capture.
type Source struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Domain     string `json:"domain"`
	CapturedAt int64  `json:"capturedAt"`
}

// Note is the persisted unit. ID is opaque and immutable after creation.
// Timestamps are Unix milliseconds.
type Note struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	Source    *Source  `json:"source,omitempty"`
}

// HasTag reports whether the note carries the given tag.
func (n *Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsPageNoteFor reports whether this note is "the" page note for url:
// tagged PageTag with a source whose URL matches exactly.
func (n *Note) IsPageNoteFor(url string) bool {
	return n.Source != nil && n.Source.URL == url && n.HasTag(PageTag)
}

// Clone returns a deep copy so store callers can't alias internal state.
func (n *Note) Clone() *Note {
	c := *n
	if n.Tags != nil {
		c.Tags = append([]string(nil), n.Tags...)
	}
	if n.Source != nil {
		src := *n.Source
		c.Source = &src
	}
	return &c
}

// FindPageNote returns the first note in notes that is the page note for url,
// or nil. Callers pass the full listing; at most one match is the intended
// steady state but duplicates can exist under races, in which case the first
// (most recently updated, given updatedAt-desc listing order) wins.
func FindPageNote(notes []*Note, url string) *Note {
	for _, n := range notes {
		if n.IsPageNoteFor(url) {
			return n
		}
	}
	return nil
}

// Draft is the input to create. ID is optional; when empty the persistence
// layer assigns one. Timestamps are always assigned at persistence time.
type Draft struct {
	ID      string   `json:"id,omitempty"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
	Source  *Source  `json:"source,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title   *string   `json:"title,omitempty"`
	Content *string   `json:"content,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
	Source  *Source   `json:"source,omitempty"`
}

// Apply copies the set fields of the patch onto n.
func (p Patch) Apply(n *Note) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Tags != nil {
		n.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Source != nil {
		src := *p.Source
		n.Source = &src
	}
}

// SelectionCapture is the ephemeral payload of one captured text selection.
// It is never persisted standalone; it is merged into a page note's content.
type SelectionCapture struct {
	Text        string `json:"text"`
	SourceURL   string `json:"sourceUrl"`
	SourceTitle string `json:"sourceTitle"`
	Domain      string `json:"domain"`
	CapturedAt  int64  `json:"capturedAt"`
}

// Block renders the capture as a timestamped blockquote. The selection text
// originates from an untrusted page and is HTML-escaped before embedding.
func (c SelectionCapture) Block() string {
	ts := time.UnixMilli(c.CapturedAt).UTC().Format("2006-01-02 15:04")
	return "<blockquote><p>" + html.EscapeString(c.Text) +
		"</p><p><em>Captured " + ts + "</em></p></blockquote>"
}

// SeedContent builds the initial content of a fresh page note: a link line
// for the source page followed by the first selection block. Page title and
// url are page-controlled and escaped like the selection itself.
func (c SelectionCapture) SeedContent() string {
	return "<p><a href=\"" + html.EscapeString(c.SourceURL) + "\">" +
		html.EscapeString(c.SourceTitle) + "</a></p>" + c.Block()
}

// SeedDraft builds the draft for a fresh page note from the first capture.
// Tagged with PageTag plus the source domain so the note is discoverable
// both as a page note and by site.
func (c SelectionCapture) SeedDraft() Draft {
	title := c.SourceTitle
	if title == "" {
		title = c.Domain
	}
	tags := []string{PageTag}
	if c.Domain != "" {
		tags = append(tags, c.Domain)
	}
	return Draft{
		Title:   title,
		Content: c.SeedContent(),
		Tags:    tags,
		Source: &Source{
			URL:        c.SourceURL,
			Title:      c.SourceTitle,
			Domain:     c.Domain,
			CapturedAt: c.CapturedAt,
		},
	}
}
