// Package reconcile decides which declared sources must be copied into the
// repository and which previously synced destinations must be deleted. It
// only inspects the filesystem; applying the result is up to the caller.
package reconcile

import (
	"errors"
	"sort"
)

// ErrSourceMissing is returned when a declared source does not exist as the
// declared kind (file or directory).
var ErrSourceMissing = errors.New("declared source missing")

// Plan is the outcome of a reconciliation. Copy mappings go from source
// path to absolute destination path; delete lists hold absolute destination
// paths, sorted and without duplicates. CopyLinks recreates symlinks found
// inside synced directories as links, never following them.
//
// A path never appears both as a copy destination and in a delete list.
type Plan struct {
	CopyFiles   map[string]string
	CopyDirs    map[string]string
	CopyLinks   map[string]string
	DeleteFiles []string
	DeleteDirs  []string
}

// NewPlan returns an empty plan with initialized maps.
func NewPlan() Plan {
	return Plan{
		CopyFiles: make(map[string]string),
		CopyDirs:  make(map[string]string),
		CopyLinks: make(map[string]string),
	}
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool {
	return p.Len() == 0
}

// Len returns the total number of operations in the plan.
func (p Plan) Len() int {
	return len(p.CopyFiles) + len(p.CopyDirs) + len(p.CopyLinks) + len(p.DeleteFiles) + len(p.DeleteDirs)
}

// Merge returns a new plan holding the operations of both plans. For copy
// mappings present in both, o wins.
func (p Plan) Merge(o Plan) Plan {
	out := NewPlan()
	for _, m := range []map[string]string{p.CopyFiles, o.CopyFiles} {
		for src, dst := range m {
			out.CopyFiles[src] = dst
		}
	}
	for _, m := range []map[string]string{p.CopyDirs, o.CopyDirs} {
		for src, dst := range m {
			out.CopyDirs[src] = dst
		}
	}
	for _, m := range []map[string]string{p.CopyLinks, o.CopyLinks} {
		for src, dst := range m {
			out.CopyLinks[src] = dst
		}
	}
	out.DeleteFiles = union(p.DeleteFiles, o.DeleteFiles)
	out.DeleteDirs = union(p.DeleteDirs, o.DeleteDirs)
	return out
}

// normalized drops deletes of paths that are also copy destinations; the
// copy overwrites them anyway.
func (p Plan) normalized() Plan {
	dests := make(map[string]bool, len(p.CopyFiles)+len(p.CopyDirs)+len(p.CopyLinks))
	for _, m := range []map[string]string{p.CopyFiles, p.CopyDirs, p.CopyLinks} {
		for _, dst := range m {
			dests[dst] = true
		}
	}

	out := p.Merge(Plan{})
	out.DeleteFiles = without(out.DeleteFiles, dests)
	out.DeleteDirs = without(out.DeleteDirs, dests)
	return out
}

// SortedCopies returns the source paths of a copy mapping in lexical order.
func SortedCopies(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func without(list []string, drop map[string]bool) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}
