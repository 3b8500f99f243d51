package settings

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Manager holds the live settings for one process and republishes them on
// change. Reload keeps the last good settings when the file is malformed.
type Manager struct {
	mu      sync.RWMutex
	path    string
	current Settings
	subs    []chan Settings

	log     *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewManager loads settings from path. A missing file yields defaults.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:    path,
		current: s,
		log:     logger,
		done:    make(chan struct{}),
	}, nil
}

// NewStaticManager wraps fixed settings with no backing file. Used by tests
// and by contexts that receive settings over the bus instead of from disk.
func NewStaticManager(s Settings) *Manager {
	return &Manager{
		current: s,
		log:     zap.NewNop(),
		done:    make(chan struct{}),
	}
}

// Current returns the live settings.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// URLEnabled reports whether capture may run on rawURL under the live settings.
func (m *Manager) URLEnabled(rawURL string) bool {
	return m.Current().URLEnabled(rawURL)
}

// Reload re-reads the settings file and notifies subscribers. On a parse
// error the previous settings stay in effect.
func (m *Manager) Reload() error {
	if m.path == "" {
		m.notify(m.Current())
		return nil
	}
	s, err := Load(m.path)
	if err != nil {
		m.log.Warn("settings reload failed, keeping previous",
			zap.String("path", m.path), zap.Error(err))
		return err
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.log.Info("settings reloaded", zap.String("path", m.path))
	m.notify(s)
	return nil
}

// Apply swaps in settings directly (e.g. received via SETTINGS_UPDATED)
// and notifies subscribers.
func (m *Manager) Apply(s Settings) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.notify(s)
}

// Subscribe returns a channel receiving each new settings value. The channel
// has capacity 1 and is coalescing: a slow subscriber sees only the latest.
func (m *Manager) Subscribe() <-chan Settings {
	ch := make(chan Settings, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) notify(s Settings) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
			// Drop the stale value, keep the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Watch starts an fsnotify watcher on the settings file and reloads on
// change, so a settings edit takes effect without restarting.
func (m *Manager) Watch() error {
	if m.path == "" {
		return fmt.Errorf("settings: no file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which would
	// drop a watch on the file itself.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return fmt.Errorf("settings watcher: %w", err)
	}
	m.watcher = w

	m.wg.Add(1)
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != m.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Reload logs its own outcome; a bad file keeps the last
			// good settings.
			m.Reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher, if any.
func (m *Manager) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if m.watcher != nil {
			err = m.watcher.Close()
		}
		m.wg.Wait()
	})
	return err
}
