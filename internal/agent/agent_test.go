package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbuguanewton/notez/internal/bus"
	"github.com/mbuguanewton/notez/internal/coordinator"
	"github.com/mbuguanewton/notez/internal/message"
	"github.com/mbuguanewton/notez/internal/settings"
	"github.com/mbuguanewton/notez/internal/store"
)

// fakeSurface records affordance calls.
type fakeSurface struct {
	mu          sync.Mutex
	shows       int
	hides       int
	clears      int
	statuses    []string
	lastShowSel Selection
}

func (f *fakeSurface) ShowAffordance(sel Selection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows++
	f.lastShowSel = sel
}
func (f *fakeSurface) HideAffordance() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides++
}
func (f *fakeSurface) ClearSelection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}
func (f *fakeSurface) ShowStatus(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, msg)
}
func (f *fakeSurface) showCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shows
}
func (f *fakeSurface) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}
func (f *fakeSurface) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

// fakeSender answers CHECK_URL_ENABLED with a fixed gate and records
// everything else.
type fakeSender struct {
	mu      sync.Mutex
	enabled bool
	reply   message.Response
	err     error
	sent    []message.Request
}

func (f *fakeSender) Send(ctx context.Context, req message.Request) (message.Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	if req.Type == message.TypeCheckURLEnabled {
		return message.Success(message.EnabledPayload{Enabled: f.enabled}), nil
	}
	if f.err != nil {
		return message.Response{}, f.err
	}
	return f.reply, nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var testConfig = Config{
	Debounce:     20 * time.Millisecond,
	HideAfter:    120 * time.Millisecond,
	ReplyTimeout: 100 * time.Millisecond,
}

func newAttachedAgent(t *testing.T, surface *fakeSurface, sender *fakeSender) *Agent {
	t.Helper()
	a := New("https://example.com/a", "Example", surface, sender, testConfig, nil)
	t.Cleanup(a.Close)
	require.NoError(t, a.Attach(context.Background()))
	return a
}

func waitForState(t *testing.T, a *Agent, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return a.State() == want },
		time.Second, 2*time.Millisecond, "never reached %s", want)
}

func TestAffordanceAppearsAfterDebounce(t *testing.T) {
	surface := &fakeSurface{}
	a := newAttachedAgent(t, surface, &fakeSender{enabled: true})

	a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
	assert.Equal(t, StatePendingShow, a.State())
	assert.Equal(t, 0, surface.showCount(), "shown before debounce elapsed")

	waitForState(t, a, StateVisible)
	assert.Equal(t, 1, surface.showCount())
}

func TestRapidSelectionChangesCoalesce(t *testing.T) {
	surface := &fakeSurface{}
	a := newAttachedAgent(t, surface, &fakeSender{enabled: true})

	for i := 0; i < 5; i++ {
		a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
		time.Sleep(2 * time.Millisecond)
	}
	waitForState(t, a, StateVisible)
	assert.Equal(t, 1, surface.showCount(), "each keystroke-burst shows once")
}

func TestEmptyOrZeroGeometrySelectionIgnored(t *testing.T) {
	surface := &fakeSurface{}
	a := newAttachedAgent(t, surface, &fakeSender{enabled: true})

	a.SelectionChanged(Selection{Text: "   ", Width: 40, Height: 12})
	a.SelectionChanged(Selection{Text: "hello", Width: 0, Height: 0})
	time.Sleep(3 * testConfig.Debounce)

	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, 0, surface.showCount())
}

func TestDismissTriggers(t *testing.T) {
	cases := []struct {
		name    string
		dismiss func(a *Agent)
	}{
		{"scroll", func(a *Agent) { a.Scrolled() }},
		{"escape", func(a *Agent) { a.EscapePressed() }},
		{"pointer outside", func(a *Agent) { a.PointerDown(false, false) }},
		{"selection cleared", func(a *Agent) { a.SelectionChanged(Selection{}) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			surface := &fakeSurface{}
			a := newAttachedAgent(t, surface, &fakeSender{enabled: true})

			a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
			waitForState(t, a, StateVisible)

			tc.dismiss(a)
			assert.Equal(t, StateIdle, a.State())
		})
	}
}

func TestPointerInsideDoesNotDismiss(t *testing.T) {
	surface := &fakeSurface{}
	a := newAttachedAgent(t, surface, &fakeSender{enabled: true})

	a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
	waitForState(t, a, StateVisible)

	a.PointerDown(true, false)
	a.PointerDown(false, true)
	assert.Equal(t, StateVisible, a.State())
}

func TestUnattendedAffordanceTimesOut(t *testing.T) {
	surface := &fakeSurface{}
	a := newAttachedAgent(t, surface, &fakeSender{enabled: true})

	a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
	waitForState(t, a, StateVisible)
	waitForState(t, a, StateIdle)
}

func TestDeniedURLNeverShows(t *testing.T) {
	surface := &fakeSurface{}
	sender := &fakeSender{enabled: false}
	a := New("https://internal.example.org/x", "Internal", surface, sender, testConfig, nil)
	defer a.Close()
	require.NoError(t, a.Attach(context.Background()))
	assert.False(t, a.Enabled())

	a.SelectionChanged(Selection{Text: "secret", Width: 40, Height: 12})
	time.Sleep(3 * testConfig.Debounce)
	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, 0, surface.showCount())
}

func TestLiveGateChangeDetaches(t *testing.T) {
	surface := &fakeSurface{}
	sender := &fakeSender{enabled: true}
	a := newAttachedAgent(t, surface, sender)

	a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
	waitForState(t, a, StateVisible)

	// Settings change flips the gate; re-attach applies it without reload.
	sender.mu.Lock()
	sender.enabled = false
	sender.mu.Unlock()
	require.NoError(t, a.Attach(context.Background()))

	assert.False(t, a.Enabled())
	assert.Equal(t, StateIdle, a.State())

	a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
	time.Sleep(3 * testConfig.Debounce)
	assert.Equal(t, 1, surface.showCount(), "no show after gate closed")
}

func TestCaptureWithoutSelectionSendsNothing(t *testing.T) {
	surface := &fakeSurface{}
	sender := &fakeSender{enabled: true}
	a := newAttachedAgent(t, surface, sender)
	before := sender.sentCount()

	err := a.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Equal(t, before, sender.sentCount(), "user-input error must not reach the channel")
}

func TestCaptureCleansUpOnSuccessAndFailure(t *testing.T) {
	cases := []struct {
		name  string
		reply message.Response
		err   error
	}{
		{"success", message.Success(nil), nil},
		{"coordinator failure", message.Failure("backend down"), nil},
		{"channel closed", message.Response{}, bus.ErrClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			surface := &fakeSurface{}
			sender := &fakeSender{enabled: true, reply: tc.reply, err: tc.err}
			a := newAttachedAgent(t, surface, sender)

			a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
			waitForState(t, a, StateVisible)

			a.Capture(context.Background())

			// Cleanup runs no matter the outcome.
			assert.Equal(t, 1, surface.clearCount())
			assert.Equal(t, StateIdle, a.State())
			assert.NotEmpty(t, surface.lastStatus())
		})
	}
}

func TestCaptureTimeoutShowsStatusAndDoesNotRetry(t *testing.T) {
	surface := &fakeSurface{}
	slow := &slowSender{delay: time.Second}
	a := New("https://example.com/a", "Example", surface, slow, testConfig, nil)
	defer a.Close()
	a.setEnabled(true)

	a.SelectionChanged(Selection{Text: "hello", Width: 40, Height: 12})
	waitForState(t, a, StateVisible)

	start := time.Now()
	err := a.Capture(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "gave up at the reply timeout")
	assert.Equal(t, int32(1), slow.sends.Load(), "no automatic retry")
	assert.NotEmpty(t, surface.lastStatus())
	assert.Equal(t, 1, surface.clearCount())
}

// End to end: agent -> bus -> coordinator -> store.
func TestCaptureThroughRealCoordinator(t *testing.T) {
	st := store.NewMemoryStore()
	mgr := settings.NewStaticManager(settings.Default())
	coord := coordinator.New(st, mgr, nil)
	b := bus.New(coord.Handle)
	b.Start()
	defer b.Close()

	surface := &fakeSurface{}
	a := New("https://example.com/a", "Example", surface, b.Connect(), testConfig, nil)
	defer a.Close()
	require.NoError(t, a.Attach(context.Background()))
	require.True(t, a.Enabled())

	a.SelectionChanged(Selection{Text: "Hello <b>world</b>", Width: 40, Height: 12})
	waitForState(t, a, StateVisible)
	require.NoError(t, a.Capture(context.Background()))

	notes, err := st.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Content, "Hello &lt;b&gt;world&lt;/b&gt;")
	assert.Equal(t, []string{"web-page", "example.com"}, notes[0].Tags)
}

type slowSender struct {
	delay time.Duration
	sends atomic.Int32
}

func (s *slowSender) Send(ctx context.Context, req message.Request) (message.Response, error) {
	s.sends.Add(1)
	select {
	case <-time.After(s.delay):
		return message.Success(nil), nil
	case <-ctx.Done():
		return message.Response{}, ctx.Err()
	}
}
