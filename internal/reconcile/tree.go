package reconcile

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-git/go-billy/v5"

	"github.com/schaermu/gitsync/internal/ignore"
)

type entryKind int

const (
	kindMissing entryKind = iota
	kindOther
	kindFile
	kindDir
	kindLink
)

// listing holds the visible entries of one directory, names sorted.
type listing struct {
	names []string
	kinds map[string]entryKind
}

// DiffTrees compares every source directory in pairs with its destination
// directory, recursing into subdirectories present on both sides.
//
// A missing destination schedules the whole source directory for copy.
// Entries matched by ig are invisible on both sides. Symlinks below the
// pair roots are entries of their own: they are compared by target and
// never followed, matching what CopyDir produces. Every source must be an
// existing directory; otherwise ErrSourceMissing is returned and no plan is
// produced.
func DiffTrees(fs billy.Filesystem, pairs map[string]string, ig *ignore.Matcher) (Plan, error) {
	srcs := SortedCopies(pairs)
	for _, src := range srcs {
		kind, err := kindOf(fs, src)
		if err != nil {
			return Plan{}, err
		}
		if kind != kindDir {
			return Plan{}, fmt.Errorf("%w: %s: no such directory", ErrSourceMissing, src)
		}
	}

	plan := NewPlan()
	common := make(map[string]string)
	for _, src := range srcs {
		level, sub, err := diffPair(fs, src, pairs[src], ig)
		if err != nil {
			return Plan{}, err
		}
		plan = plan.Merge(level)
		for s, d := range sub {
			common[s] = d
		}
	}

	if len(common) > 0 {
		deeper, err := DiffTrees(fs, common, ig)
		if err != nil {
			return Plan{}, err
		}
		plan = plan.Merge(deeper)
	}
	return plan, nil
}

// diffPair compares the immediate entries of one directory pair. It returns
// the operations for this level and the subdirectory pairs still to compare.
func diffPair(fs billy.Filesystem, src, dst string, ig *ignore.Matcher) (Plan, map[string]string, error) {
	plan := NewPlan()

	dstKind, err := lkindOf(fs, dst)
	if err != nil {
		return Plan{}, nil, err
	}
	if dstKind != kindDir {
		plan.CopyDirs[src] = dst
		return plan, nil, nil
	}

	left, err := list(fs, src, ig)
	if err != nil {
		return Plan{}, nil, err
	}
	right, err := list(fs, dst, ig)
	if err != nil {
		return Plan{}, nil, err
	}

	common := make(map[string]string)
	for _, name := range left.names {
		srcPath := fs.Join(src, name)
		dstPath := fs.Join(dst, name)
		srcKind := left.kinds[name]
		destKind, inDst := right.kinds[name]

		switch {
		case inDst && srcKind == kindDir && destKind == kindDir:
			common[srcPath] = dstPath
		case inDst && srcKind == kindFile && destKind == kindFile:
			same, err := Identical(fs, srcPath, dstPath)
			if err != nil {
				return Plan{}, nil, err
			}
			if !same {
				plan.CopyFiles[srcPath] = dstPath
			}
		case inDst && srcKind == kindLink && destKind == kindLink:
			same, err := sameTarget(fs, srcPath, dstPath)
			if err != nil {
				return Plan{}, nil, err
			}
			if !same {
				plan.CopyLinks[srcPath] = dstPath
			}
		case srcKind == kindLink:
			plan.CopyLinks[srcPath] = dstPath
		case srcKind == kindDir:
			// only in src, or a file or link in dst; CopyDir replaces it
			plan.CopyDirs[srcPath] = dstPath
		default:
			plan.CopyFiles[srcPath] = dstPath
		}
	}

	for _, name := range right.names {
		if _, inSrc := left.kinds[name]; inSrc {
			continue
		}
		dstPath := fs.Join(dst, name)
		if right.kinds[name] == kindDir {
			plan.DeleteDirs = append(plan.DeleteDirs, dstPath)
		} else {
			plan.DeleteFiles = append(plan.DeleteFiles, dstPath)
		}
	}
	sort.Strings(plan.DeleteFiles)
	sort.Strings(plan.DeleteDirs)

	return plan, common, nil
}

// list reads a directory and classifies its entries without following
// symlinks. Ignored names and entries that are neither files, directories
// nor symlinks are left out.
func list(fs billy.Filesystem, dir string, ig *ignore.Matcher) (listing, error) {
	infos, err := fs.ReadDir(dir)
	if err != nil {
		return listing{}, fmt.Errorf("failed to list %q: %w", dir, err)
	}

	l := listing{kinds: make(map[string]entryKind, len(infos))}
	for _, info := range infos {
		name := info.Name()
		if ig.Match(name) {
			continue
		}
		kind, err := lkindOf(fs, fs.Join(dir, name))
		if err != nil {
			return listing{}, err
		}
		if kind == kindMissing || kind == kindOther {
			continue
		}
		l.names = append(l.names, name)
		l.kinds[name] = kind
	}
	sort.Strings(l.names)
	return l, nil
}

// kindOf classifies path, following symlinks. Used for declared sources.
func kindOf(fs billy.Filesystem, path string) (entryKind, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return kindMissing, nil
		}
		return kindMissing, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	return classify(info), nil
}

// lkindOf classifies path itself; a symlink is kindLink whether or not its
// target exists.
func lkindOf(fs billy.Filesystem, path string) (entryKind, error) {
	info, err := fs.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return kindMissing, nil
		}
		return kindMissing, fmt.Errorf("failed to lstat %q: %w", path, err)
	}
	return classify(info), nil
}

func classify(info os.FileInfo) entryKind {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return kindLink
	case info.IsDir():
		return kindDir
	case info.Mode().IsRegular():
		return kindFile
	default:
		return kindOther
	}
}

func sameTarget(fs billy.Filesystem, a, b string) (bool, error) {
	ta, err := fs.Readlink(a)
	if err != nil {
		return false, fmt.Errorf("failed to read symlink %q: %w", a, err)
	}
	tb, err := fs.Readlink(b)
	if err != nil {
		return false, fmt.Errorf("failed to read symlink %q: %w", b, err)
	}
	return ta == tb, nil
}
