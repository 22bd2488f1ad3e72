package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/schaermu/gitsync/internal/ignore"
	"github.com/schaermu/gitsync/internal/manifest"
)

// BuildPlan computes what has to change in the repository at root so that
// it matches curr, given the manifest of the previous sync.
//
// Destinations of sources dropped from the manifest (or moved to a new
// destination) are deleted unless the current manifest still claims that
// path. A stale destination that encloses current destinations is deleted
// as a whole and those destinations are copied again. Declared files are
// copied when their destination is missing or differs; declared
// directories are compared recursively with DiffTrees.
func BuildPlan(fs billy.Filesystem, prior manifest.Prior, curr manifest.Manifest, root string, ig *ignore.Matcher) (Plan, error) {
	if err := curr.Validate(manifest.OriginConfig); err != nil {
		return Plan{}, err
	}
	prev, hasPrev := prior.Manifest()
	if hasPrev {
		if err := prev.Validate(manifest.OriginState); err != nil {
			return Plan{}, err
		}
	}

	files, err := diffFiles(fs, curr.Files, root)
	if err != nil {
		return Plan{}, err
	}

	pairs := make(map[string]string, len(curr.Dirs))
	for src, rel := range curr.Dirs {
		pairs[src] = fs.Join(root, rel)
	}
	dirs, err := DiffTrees(fs, pairs, ig)
	if err != nil {
		return Plan{}, err
	}

	plan := files.Merge(dirs)
	if hasPrev {
		plan = plan.Merge(removals(fs, prev, curr, root))
	}
	return plan.normalized(), nil
}

// removals schedules deletion of destinations that prev synced but curr no
// longer maps to. Paths still owned by curr are left to the copy steps;
// current destinations nested below a deleted path are copied again.
func removals(fs billy.Filesystem, prev, curr manifest.Manifest, root string) Plan {
	claims := newClaims(fs, curr, root)
	plan := NewPlan()

	for src, prevRel := range prev.Files {
		rel, declared := curr.Files[src]
		if declared && fs.Join(root, rel) == fs.Join(root, prevRel) {
			continue
		}
		if path := fs.Join(root, prevRel); !claims.owns(path) {
			plan.DeleteFiles = append(plan.DeleteFiles, path)
			claims.restore(plan, path)
		}
	}

	for src, prevRel := range prev.Dirs {
		rel, declared := curr.Dirs[src]
		if declared && fs.Join(root, rel) == fs.Join(root, prevRel) {
			continue
		}
		if path := fs.Join(root, prevRel); !claims.owns(path) {
			plan.DeleteDirs = append(plan.DeleteDirs, path)
			claims.restore(plan, path)
		}
	}

	return plan.Merge(Plan{})
}

// diffFiles schedules every declared file whose destination is missing or
// not byte-identical.
func diffFiles(fs billy.Filesystem, files map[string]string, root string) (Plan, error) {
	plan := NewPlan()
	for _, src := range SortedCopies(files) {
		kind, err := kindOf(fs, src)
		if err != nil {
			return Plan{}, err
		}
		if kind != kindFile {
			return Plan{}, fmt.Errorf("%w: %s: no such file", ErrSourceMissing, src)
		}

		dst := fs.Join(root, files[src])
		dstKind, err := lkindOf(fs, dst)
		if err != nil {
			return Plan{}, err
		}
		if dstKind != kindFile {
			plan.CopyFiles[src] = dst
			continue
		}

		same, err := Identical(fs, src, dst)
		if err != nil {
			return Plan{}, err
		}
		if !same {
			plan.CopyFiles[src] = dst
		}
	}
	return plan, nil
}

// Precheck verifies that every declared file is a file and every declared
// directory is a directory.
func Precheck(fs billy.Filesystem, m manifest.Manifest) error {
	for _, src := range SortedCopies(m.Files) {
		kind, err := kindOf(fs, src)
		if err != nil {
			return err
		}
		if kind != kindFile {
			return fmt.Errorf("%w: item declared in files is not a file: %s", ErrSourceMissing, src)
		}
	}
	for _, src := range SortedCopies(m.Dirs) {
		kind, err := kindOf(fs, src)
		if err != nil {
			return err
		}
		if kind != kindDir {
			return fmt.Errorf("%w: item declared in dirs is not a directory: %s", ErrSourceMissing, src)
		}
	}
	return nil
}

// Strays lists the top-level entries of root that no destination of m
// claims and that ig does not match. Directories are returned separately
// from everything else.
func Strays(fs billy.Filesystem, root string, m manifest.Manifest, ig *ignore.Matcher) (files, dirs []string, err error) {
	claimed := make(map[string]bool)
	for _, mapping := range []map[string]string{m.Files, m.Dirs} {
		for _, rel := range mapping {
			claimed[topSegment(rel)] = true
		}
	}

	infos, err := fs.ReadDir(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %q: %w", root, err)
	}

	for _, info := range infos {
		name := info.Name()
		if claimed[name] || ig.Match(name) {
			continue
		}
		path := fs.Join(root, name)
		lst, err := fs.Lstat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to lstat %q: %w", path, err)
		}
		if lst.IsDir() {
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
	}
	return union(files, nil), union(dirs, nil), nil
}

// claims answers whether a path is still owned by the current manifest.
type claims struct {
	sep   string
	files map[string]string // destination -> source
	dirs  map[string]string // destination -> source
}

func newClaims(fs billy.Filesystem, m manifest.Manifest, root string) claims {
	c := claims{
		sep:   string(filepath.Separator),
		files: make(map[string]string, len(m.Files)),
		dirs:  make(map[string]string, len(m.Dirs)),
	}
	for src, rel := range m.Files {
		c.files[fs.Join(root, rel)] = src
	}
	for src, rel := range m.Dirs {
		c.dirs[fs.Join(root, rel)] = src
	}
	return c
}

// owns reports whether path is a current destination or lies inside a
// current directory destination.
func (c claims) owns(path string) bool {
	if _, ok := c.files[path]; ok {
		return true
	}
	for d := range c.dirs {
		if d == path || strings.HasPrefix(path, d+c.sep) {
			return true
		}
	}
	return false
}

// restore schedules a full copy of every current destination below path,
// which is about to be deleted.
func (c claims) restore(plan Plan, path string) {
	prefix := path + c.sep
	for dst, src := range c.files {
		if strings.HasPrefix(dst, prefix) {
			plan.CopyFiles[src] = dst
		}
	}
	for dst, src := range c.dirs {
		if strings.HasPrefix(dst, prefix) {
			plan.CopyDirs[src] = dst
		}
	}
}

func topSegment(rel string) string {
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(rel)), "/")
	if i := strings.Index(clean, "/"); i >= 0 {
		return clean[:i]
	}
	return clean
}
