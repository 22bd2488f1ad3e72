package ignore

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
)

// MarkerName is the name of the sync state file kept at the repository root.
const MarkerName = ".state"

// DefaultPatterns returns the names that are never synced because doing so
// would break the repository or the sync state. A new slice is returned on
// every call.
func DefaultPatterns() []string {
	return []string{
		MarkerName,
		".gitignore",
		".git",
	}
}

// Matcher reports whether a file or directory name is excluded from syncing.
// The zero value matches nothing.
type Matcher struct {
	patterns []string
	globs    []glob.Glob
}

// New compiles the given glob name patterns (fnmatch style: *, ?, [...]).
// Duplicates and empty patterns are dropped.
func New(patterns ...string) (*Matcher, error) {
	m := &Matcher{}
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true

		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, p)
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// WithDefaults compiles the given patterns together with DefaultPatterns.
func WithDefaults(patterns ...string) (*Matcher, error) {
	all := append(DefaultPatterns(), patterns...)
	return New(all...)
}

// Match reports whether the base name of path matches any pattern.
func (m *Matcher) Match(path string) bool {
	if m == nil {
		return false
	}
	name := filepath.Base(path)
	for _, g := range m.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Patterns returns a sorted copy of the compiled patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	sort.Strings(out)
	return out
}

// Validate checks that every pattern compiles.
func Validate(patterns []string) error {
	_, err := New(patterns...)
	return err
}
