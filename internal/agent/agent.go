// Package agent implements the per-page selection capture state machine:
// Idle -> PendingShow -> Visible -> Idle. Page events (selection changes,
// scroll, pointer, Escape) drive the transitions; a debounce interval gates
// rendering the capture affordance, and dispatching a capture always cleans
// up no matter how the request turns out.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mbuguanewton/notez/internal/bus"
	"github.com/mbuguanewton/notez/internal/message"
	"github.com/mbuguanewton/notez/internal/note"
	"github.com/mbuguanewton/notez/internal/settings"
)

// State is the agent's affordance state.
type State int

const (
	StateIdle State = iota
	StatePendingShow
	StateVisible
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingShow:
		return "pending-show"
	case StateVisible:
		return "visible"
	default:
		return "unknown"
	}
}

// ErrNoSelection is the user-input rejection: capture was requested with no
// active selection. Nothing is sent over the channel in that case.
var ErrNoSelection = errors.New("no active selection")

// ErrDisabled is returned when capture runs on a gated-off url.
var ErrDisabled = errors.New("capture disabled for this url")

// Selection is one observed text selection with its bounding geometry.
type Selection struct {
	Text   string
	Width  float64
	Height float64
}

func (s Selection) empty() bool {
	return strings.TrimSpace(s.Text) == "" || s.Width <= 0 || s.Height <= 0
}

// Surface renders the capture affordance in the page. Implemented by the
// page layer; ShowStatus must auto-dismiss on its own.
type Surface interface {
	ShowAffordance(sel Selection)
	HideAffordance()
	ClearSelection()
	ShowStatus(msg string)
}

// Sender dispatches a request to the coordinator. *bus.Port satisfies it.
type Sender interface {
	Send(ctx context.Context, req message.Request) (message.Response, error)
}

// Config holds the agent's timers.
type Config struct {
	Debounce     time.Duration // selection stability before showing
	HideAfter    time.Duration // unattended affordance timeout
	ReplyTimeout time.Duration // how long to wait for the coordinator
}

// ConfigFromSettings maps the settings block onto agent timers.
func ConfigFromSettings(a settings.Agent) Config {
	return Config{
		Debounce:     a.Debounce.Std(),
		HideAfter:    a.HideAfter.Std(),
		ReplyTimeout: a.ReplyTimeout.Std(),
	}
}

// Agent is one page's capture logic.
type Agent struct {
	mu      sync.Mutex
	state   State
	enabled bool
	closed  bool
	seq     uint64 // bumped on every transition; stale timer callbacks no-op
	sel     Selection

	pageURL   string
	pageTitle string
	domain    string

	surface  Surface
	sender   Sender
	cfg      Config
	log      *zap.Logger
	now      func() int64
	debounce *time.Timer
	hide     *time.Timer
}

// New creates an agent for one page. The agent starts disabled; Attach asks
// the coordinator whether this url is allowed before any behavior attaches.
func New(pageURL, pageTitle string, surface Surface, sender Sender, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.HideAfter <= 0 {
		cfg.HideAfter = 8 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Second
	}
	return &Agent{
		pageURL:   pageURL,
		pageTitle: pageTitle,
		domain:    domainOf(pageURL),
		surface:   surface,
		sender:    sender,
		cfg:       cfg,
		log:       logger,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Attach checks the url gate with the coordinator and enables or disables
// the agent accordingly. Called once at page load and again on every
// settings change, so a gate flip takes effect without reloading the page.
func (a *Agent) Attach(ctx context.Context) error {
	data, _ := json.Marshal(message.CheckURLPayload{URL: a.pageURL})
	resp, err := a.sender.Send(ctx, message.Request{
		Type: message.TypeCheckURLEnabled,
		Data: data,
	})
	if err != nil {
		a.setEnabled(false)
		return err
	}
	if !resp.Success {
		a.setEnabled(false)
		return errors.New(resp.Error)
	}
	var payload message.EnabledPayload
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		a.setEnabled(false)
		return err
	}
	a.setEnabled(payload.Enabled)
	return nil
}

// Enabled reports whether the gate currently allows this page.
func (a *Agent) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// State returns the current affordance state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled && !enabled {
		a.dismissLocked()
	}
	a.enabled = enabled
}

// SelectionChanged feeds one coalesced selection-change event. A non-empty
// selection with real geometry arms the debounce; showing waits until the
// selection has been stable for the debounce interval.
func (a *Agent) SelectionChanged(sel Selection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled || a.closed {
		return
	}

	if sel.empty() {
		a.dismissLocked()
		return
	}

	if a.state == StateVisible {
		a.surface.HideAffordance()
	}
	a.sel = sel
	a.state = StatePendingShow
	a.seq++
	seq := a.seq

	a.stopTimersLocked()
	a.debounce = time.AfterFunc(a.cfg.Debounce, func() { a.debounceFired(seq) })
}

func (a *Agent) debounceFired(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || seq != a.seq || a.state != StatePendingShow {
		return
	}
	a.state = StateVisible
	a.surface.ShowAffordance(a.sel)
	a.hide = time.AfterFunc(a.cfg.HideAfter, func() { a.hideFired(seq) })
}

func (a *Agent) hideFired(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || seq != a.seq || a.state != StateVisible {
		return
	}
	a.dismissLocked()
}

// Scrolled dismisses the affordance on any scroll.
func (a *Agent) Scrolled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissLocked()
}

// EscapePressed dismisses the affordance.
func (a *Agent) EscapePressed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissLocked()
}

// PointerDown dismisses the affordance on a press outside both the
// affordance and the active selection.
func (a *Agent) PointerDown(insideAffordance, insideSelection bool) {
	if insideAffordance || insideSelection {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissLocked()
}

// dismissLocked returns to Idle: timers stopped, affordance hidden.
func (a *Agent) dismissLocked() {
	a.seq++
	a.stopTimersLocked()
	if a.state == StateVisible {
		a.surface.HideAffordance()
	}
	a.state = StateIdle
	a.sel = Selection{}
}

func (a *Agent) stopTimersLocked() {
	if a.debounce != nil {
		a.debounce.Stop()
		a.debounce = nil
	}
	if a.hide != nil {
		a.hide.Stop()
		a.hide = nil
	}
}

// Capture dispatches the current selection to the coordinator. Whatever the
// outcome, the native selection is cleared and the affordance hidden.
// A reply timeout only stops waiting; the
// coordinator may still complete the write afterwards. No automatic retry.
func (a *Agent) Capture(ctx context.Context) error {
	a.mu.Lock()
	if !a.enabled || a.closed {
		a.mu.Unlock()
		return ErrDisabled
	}
	if a.state != StateVisible || a.sel.empty() {
		a.mu.Unlock()
		return ErrNoSelection
	}
	capture := note.SelectionCapture{
		Text:        a.sel.Text,
		SourceURL:   a.pageURL,
		SourceTitle: a.pageTitle,
		Domain:      a.domain,
		CapturedAt:  a.now(),
	}
	a.mu.Unlock()

	defer func() {
		a.surface.ClearSelection()
		a.mu.Lock()
		a.dismissLocked()
		a.mu.Unlock()
	}()

	data, _ := json.Marshal(capture)
	sctx, cancel := context.WithTimeout(ctx, a.cfg.ReplyTimeout)
	defer cancel()

	resp, err := a.sender.Send(sctx, message.Request{
		Type: message.TypeAddSelectionToPageNote,
		Data: data,
	})
	switch {
	case errors.Is(err, bus.ErrClosed):
		a.surface.ShowStatus("Notes unavailable. Reload the page")
		return err
	case err != nil:
		a.log.Warn("capture reply timed out", zap.String("url", a.pageURL), zap.Error(err))
		a.surface.ShowStatus("No reply. Selection not saved")
		return err
	case !resp.Success:
		a.surface.ShowStatus("Couldn't save selection")
		return errors.New(resp.Error)
	}

	a.surface.ShowStatus("Saved to page note")
	return nil
}

// Close detaches the agent: timers stopped, no further events handled.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissLocked()
	a.closed = true
}

// domainOf extracts the hostname for tagging; ports and credentials don't
// belong in a tag.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
