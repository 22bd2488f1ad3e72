// Package manifest models the declared sync state (which sources map to
// which destinations inside the repository) and persists the last
// successfully synced manifest at the repository root.
package manifest

import (
	"errors"
	"fmt"

	"github.com/schaermu/gitsync/internal/ignore"
)

// Keys of the two required mappings.
const (
	KeyFiles = "files"
	KeyDirs  = "dirs"
)

// Manifest is a declared desired state. Keys are absolute source paths,
// values are destination paths relative to the repository root.
type Manifest struct {
	Files  map[string]string `yaml:"files" json:"files"`
	Dirs   map[string]string `yaml:"dirs" json:"dirs"`
	Ignore IgnoreConfig      `yaml:"ignore" json:"ignore"`
}

// IgnoreConfig holds the name patterns skipped while copying directories.
type IgnoreConfig struct {
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// Matcher compiles the manifest's ignore patterns together with the
// built-in defaults.
func (m Manifest) Matcher() (*ignore.Matcher, error) {
	return ignore.WithDefaults(m.Ignore.Patterns...)
}

// Origin identifies where a manifest was read from.
type Origin string

const (
	OriginConfig Origin = "config file"
	OriginState  Origin = "state file"
)

// ErrMalformed is matched by every *Error.
var ErrMalformed = errors.New("malformed manifest")

// Error reports a required key missing from a manifest.
type Error struct {
	Origin Origin
	Key    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %q key not found", e.Origin, e.Key)
}

// Is makes errors.Is(err, ErrMalformed) hold for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrMalformed
}

// Validate checks that both the files and the dirs mapping are present.
// An empty mapping is valid; a missing one is not.
func (m Manifest) Validate(origin Origin) error {
	if m.Files == nil {
		return &Error{Origin: origin, Key: KeyFiles}
	}
	if m.Dirs == nil {
		return &Error{Origin: origin, Key: KeyDirs}
	}
	return nil
}

// Prior is the manifest remembered from the last successful sync, or
// nothing on a first run.
type Prior struct {
	m *Manifest
}

// NoPrior returns the prior state of a repository that was never synced.
func NoPrior() Prior {
	return Prior{}
}

// PriorOf wraps a manifest loaded from a previous sync.
func PriorOf(m Manifest) Prior {
	return Prior{m: &m}
}

// Present reports whether a previous manifest exists.
func (p Prior) Present() bool {
	return p.m != nil
}

// Manifest returns the previous manifest and whether there is one.
func (p Prior) Manifest() (Manifest, bool) {
	if p.m == nil {
		return Manifest{}, false
	}
	return *p.m, true
}
