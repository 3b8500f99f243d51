// Package search compiles a free-text query into a term matcher for notes.
// Query terms are stopword-filtered, then matched in O(n) over note text via
// a single Aho-Corasick automaton.
package search

import (
	"strings"
	"unicode"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"

	"github.com/mbuguanewton/notez/internal/note"
)

var english = stopwords.MustGet("en")

// Matcher holds the compiled terms of one query. A note matches when every
// term occurs somewhere in its title, content, or tags (case-insensitive).
// A Matcher with no terms matches everything.
type Matcher struct {
	terms []string
	ac    *ahocorasick.Automaton
}

// NewMatcher compiles a query. Stopwords and empty tokens are dropped; if
// nothing survives, the matcher matches all notes.
func NewMatcher(query string) (*Matcher, error) {
	terms := splitTerms(query)

	m := &Matcher{terms: terms}
	if len(terms) == 0 {
		return m, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(terms).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	m.ac = ac
	return m, nil
}

// Empty reports whether the matcher has no terms and so matches everything.
func (m *Matcher) Empty() bool {
	return len(m.terms) == 0
}

// Match reports whether every query term occurs in the note.
func (m *Matcher) Match(n *note.Note) bool {
	if m.Empty() {
		return true
	}

	haystack := strings.ToLower(n.Title + "\n" + n.Content + "\n" + strings.Join(n.Tags, "\n"))

	// FindAllOverlapping so a term that is a prefix of another
	// ("go" next to "golang") is still reported.
	matched := make(map[int]bool, len(m.terms))
	for _, hit := range m.ac.FindAllOverlapping([]byte(haystack)) {
		matched[hit.PatternID] = true
		if len(matched) == len(m.terms) {
			return true
		}
	}
	return len(matched) == len(m.terms)
}

// splitTerms lowercases the query, splits on non-alphanumeric runs, and
// drops stopwords. A query that is all stopwords keeps nothing: searching
// for "the" alone should behave like an empty query, not match nothing.
func splitTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f == "" || seen[f] || english.Contains(f) {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
