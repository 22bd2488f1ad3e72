package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/schaermu/gitsync/internal/ignore"
)

// MarkerName is the state file written at the repository root. It is not
// configurable.
const MarkerName = ignore.MarkerName

// StatePath returns the location of the state file for a repository root.
func StatePath(fs billy.Filesystem, root string) string {
	return fs.Join(root, MarkerName)
}

// HasPriorState reports whether the repository root holds a state file.
func HasPriorState(fs billy.Filesystem, root string) (bool, error) {
	_, err := fs.Stat(StatePath(fs, root))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat state file: %w", err)
}

// LoadPriorState reads the manifest saved by the last successful sync.
// Missing keys are not reported here; see Manifest.Validate.
func LoadPriorState(fs billy.Filesystem, root string) (Manifest, error) {
	data, err := util.ReadFile(fs, StatePath(fs, root))
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse state file: %w", err)
	}
	return m, nil
}

// ReadPrior loads the previous manifest, or NoPrior when the repository
// was never synced.
func ReadPrior(fs billy.Filesystem, root string) (Prior, error) {
	exists, err := HasPriorState(fs, root)
	if err != nil {
		return NoPrior(), err
	}
	if !exists {
		return NoPrior(), nil
	}

	m, err := LoadPriorState(fs, root)
	if err != nil {
		return NoPrior(), err
	}
	return PriorOf(m), nil
}

// SaveState replaces the state file with m. It must only be called once
// every operation of the sync plan has been applied.
func SaveState(fs billy.Filesystem, root string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := util.TempFile(fs, root, ".state-tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = fs.Remove(tmpPath)
	}() // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := fs.Rename(tmpPath, StatePath(fs, root)); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
