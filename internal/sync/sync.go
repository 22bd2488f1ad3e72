package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/schaermu/gitsync/internal/config"
	"github.com/schaermu/gitsync/internal/fsops"
	"github.com/schaermu/gitsync/internal/git"
	"github.com/schaermu/gitsync/internal/ignore"
	"github.com/schaermu/gitsync/internal/manifest"
	"github.com/schaermu/gitsync/internal/reconcile"
)

// GitignoreName is the ignore file written at the repository root.
const GitignoreName = ".gitignore"

// Engine orchestrates the sync process
type Engine struct {
	cfg    *config.Config
	git    git.Client
	fs     billy.Filesystem
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new sync engine working on the host filesystem
func NewEngine(cfg *config.Config, gitClient git.Client, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		git:    gitClient,
		fs:     osfs.New("/"),
		logger: logger,
		dryRun: dryRun,
	}
}

// Run executes the complete sync process
func (e *Engine) Run(ctx context.Context) error {
	root := e.cfg.RepoDir
	e.logger.Info("starting sync",
		"repo_dir", root,
		"files", len(e.cfg.Files),
		"dirs", len(e.cfg.Dirs),
		"dry_run", e.dryRun)

	if err := e.git.Verify(ctx, root); err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	if e.dryRun {
		e.logger.Info("dry-run, skipping pull")
	} else {
		e.logger.Info("pulling from remote", "remote", e.cfg.Git.Remote)
		if err := e.git.Pull(ctx, root); err != nil {
			return fmt.Errorf("failed to pull repository: %w", err)
		}
	}

	e.logger.Debug("performing prechecks")
	if err := reconcile.Precheck(e.fs, e.cfg.Manifest); err != nil {
		return fmt.Errorf("prechecks failed: %w", err)
	}

	ig, err := e.cfg.Matcher()
	if err != nil {
		return fmt.Errorf("failed to compile ignore patterns: %w", err)
	}

	prior, err := manifest.ReadPrior(e.fs, root)
	if err != nil {
		return fmt.Errorf("failed to load previous state: %w", err)
	}
	if !prior.Present() {
		e.logger.Info("no previous sync state found, treating as first sync")
	}

	plan, err := reconcile.BuildPlan(e.fs, prior, e.cfg.Manifest, root, ig)
	if err != nil {
		return fmt.Errorf("failed to build sync plan: %w", err)
	}

	if e.cfg.Sync.Prune {
		files, dirs, err := reconcile.Strays(e.fs, root, e.cfg.Manifest, ig)
		if err != nil {
			return fmt.Errorf("failed to find stray entries: %w", err)
		}
		if len(files)+len(dirs) > 0 {
			e.logger.Info("pruning undeclared entries", "files", len(files), "dirs", len(dirs))
		}
		plan = plan.Merge(reconcile.Plan{DeleteFiles: files, DeleteDirs: dirs})
	}

	e.logger.Info("sync plan",
		"copy_files", len(plan.CopyFiles),
		"copy_dirs", len(plan.CopyDirs),
		"copy_links", len(plan.CopyLinks),
		"delete_files", len(plan.DeleteFiles),
		"delete_dirs", len(plan.DeleteDirs))

	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	ignoreChanged, err := e.writeGitignore(root)
	if err != nil {
		return err
	}

	if err := e.applyPlan(ctx, plan, ig); err != nil {
		return fmt.Errorf("failed to apply sync plan: %w", err)
	}

	switch {
	case !plan.Empty():
		if err := e.publish(ctx, root); err != nil {
			return err
		}
	case ignoreChanged:
		e.logger.Info("ignore patterns changed", "file", GitignoreName)
		if err := e.publish(ctx, root); err != nil {
			return err
		}
	default:
		e.logger.Info("all is up to date")
	}

	if err := manifest.SaveState(e.fs, root, e.cfg.Manifest); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	e.logger.Info("sync completed successfully")
	return nil
}

// publish commits everything in the work tree and pushes it.
func (e *Engine) publish(ctx context.Context, root string) error {
	e.logger.Info("committing changes")
	hash, err := e.git.CommitAll(ctx, root, e.cfg.Sync.CommitMessage)
	switch {
	case errors.Is(err, git.ErrNothingToCommit):
		e.logger.Info("work tree clean after sync, nothing to commit")
	case err != nil:
		return fmt.Errorf("failed to commit changes: %w", err)
	default:
		e.logger.Info("committed changes", "commit", hash)
	}

	e.logger.Info("pushing to remote", "remote", e.cfg.Git.Remote)
	if err := e.git.Push(ctx, root); err != nil {
		return fmt.Errorf("failed to push changes: %w", err)
	}
	return nil
}

// applyPlan executes the sync plan: deletions first, then copies
func (e *Engine) applyPlan(ctx context.Context, plan reconcile.Plan, ig *ignore.Matcher) error {
	for _, path := range plan.DeleteFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logger.Info("deleting file", "dest", path)
		if err := fsops.DeleteFile(e.fs, path); err != nil {
			return err
		}
	}

	for _, path := range plan.DeleteDirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logger.Info("deleting directory", "dest", path)
		if err := fsops.DeleteDir(e.fs, path); err != nil {
			return err
		}
	}

	for _, src := range reconcile.SortedCopies(plan.CopyFiles) {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := plan.CopyFiles[src]
		e.logger.Info("copying file", "src", src, "dest", dst)
		if err := fsops.CopyFile(e.fs, src, dst); err != nil {
			return err
		}
	}

	for _, src := range reconcile.SortedCopies(plan.CopyLinks) {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := plan.CopyLinks[src]
		e.logger.Info("copying symlink", "src", src, "dest", dst)
		if err := fsops.CopyLink(e.fs, src, dst); err != nil {
			return err
		}
	}

	for _, src := range reconcile.SortedCopies(plan.CopyDirs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := plan.CopyDirs[src]
		e.logger.Info("copying directory", "src", src, "dest", dst)
		if err := fsops.CopyDir(e.fs, src, dst, ig); err != nil {
			return err
		}
	}

	return nil
}

// writeGitignore keeps the state marker and the configured ignore patterns
// out of version control. It reports whether the file content changed.
func (e *Engine) writeGitignore(root string) (bool, error) {
	seen := map[string]bool{manifest.MarkerName: true}
	lines := []string{manifest.MarkerName}
	for _, p := range e.cfg.Ignore.Patterns {
		if p != "" && !seen[p] {
			seen[p] = true
			lines = append(lines, p)
		}
	}
	sort.Strings(lines)

	path := e.fs.Join(root, GitignoreName)
	content := []byte(strings.Join(lines, "\n") + "\n")
	if current, err := util.ReadFile(e.fs, path); err == nil && bytes.Equal(current, content) {
		return false, nil
	}
	if err := util.WriteFile(e.fs, path, content, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", GitignoreName, err)
	}
	return true, nil
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan reconcile.Plan) {
	for _, path := range plan.DeleteFiles {
		e.logger.Info("[dry-run] would delete file", "dest", path)
	}
	for _, path := range plan.DeleteDirs {
		e.logger.Info("[dry-run] would delete directory", "dest", path)
	}
	for _, src := range reconcile.SortedCopies(plan.CopyFiles) {
		e.logger.Info("[dry-run] would copy file", "src", src, "dest", plan.CopyFiles[src])
	}
	for _, src := range reconcile.SortedCopies(plan.CopyLinks) {
		e.logger.Info("[dry-run] would copy symlink", "src", src, "dest", plan.CopyLinks[src])
	}
	for _, src := range reconcile.SortedCopies(plan.CopyDirs) {
		e.logger.Info("[dry-run] would copy directory", "src", src, "dest", plan.CopyDirs[src])
	}
}
