// Package settings holds user configuration: the remote endpoint, the
// capture allow/deny URL patterns, and agent timing. Settings load from a
// YAML file and can be re-applied live while the process runs.
package settings

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "50ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the setting as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Remote configures the authoritative note API.
type Remote struct {
	BaseURL string   `yaml:"baseUrl"`
	Timeout Duration `yaml:"timeout"`
}

// Capture configures where the selection agent may run. Patterns use
// doublestar glob syntax and are matched against "host/path" (and against
// the bare host). Deny wins over allow; an empty allow list allows all.
type Capture struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Agent configures the capture agent's timers.
type Agent struct {
	Debounce     Duration `yaml:"debounce"`
	HideAfter    Duration `yaml:"hideAfter"`
	ReplyTimeout Duration `yaml:"replyTimeout"`
}

// Settings is the full user configuration.
type Settings struct {
	Remote  Remote  `yaml:"remote"`
	Capture Capture `yaml:"capture"`
	Agent   Agent   `yaml:"agent"`
}

// Default returns the built-in configuration.
func Default() Settings {
	return Settings{
		Remote: Remote{
			Timeout: Duration(10 * time.Second),
		},
		Capture: Capture{},
		Agent: Agent{
			Debounce:     Duration(50 * time.Millisecond),
			HideAfter:    Duration(8 * time.Second),
			ReplyTimeout: Duration(5 * time.Second),
		},
	}
}

// Load reads a YAML settings file over the defaults. A missing file is not
// an error; it yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// URLEnabled reports whether the capture agent may run on rawURL.
// Deny patterns are checked first; a match disables the url outright.
// With no allow patterns every non-denied url is enabled.
func (s Settings) URLEnabled(rawURL string) bool {
	target, host, ok := matchTargets(rawURL)
	if !ok {
		return false
	}

	for _, p := range s.Capture.Deny {
		if patternMatches(p, target, host) {
			return false
		}
	}
	if len(s.Capture.Allow) == 0 {
		return true
	}
	for _, p := range s.Capture.Allow {
		if patternMatches(p, target, host) {
			return true
		}
	}
	return false
}

// matchTargets normalizes a page url into the strings patterns match against:
// "host/path" and the bare host.
func matchTargets(rawURL string) (target, host string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Host) + path, strings.ToLower(u.Host), true
}

func patternMatches(pattern, target, host string) bool {
	if ok, err := doublestar.Match(pattern, target); err == nil && ok {
		return true
	}
	if ok, err := doublestar.Match(pattern, host); err == nil && ok {
		return true
	}
	return false
}
