// Package fsops implements the file and directory operations applied by a
// sync plan: copying sources into the repository and deleting stale
// destinations. Deletes are idempotent; copies overwrite whatever is in the
// way.
package fsops

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/schaermu/gitsync/internal/ignore"
)

const tmpPrefix = ".gitsync-tmp-"

// CopyFile copies src to dst with an atomic write, creating parent
// directories as needed. Symlinks in src are followed. An existing
// directory at dst is replaced.
func CopyFile(fs billy.Filesystem, src, dst string) error {
	srcInfo, err := fs.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source %q: %w", src, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("source %q is not a regular file", src)
	}

	dir := filepath.Dir(dst)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	if info, err := fs.Lstat(dst); err == nil && info.IsDir() {
		if err := util.RemoveAll(fs, dst); err != nil {
			return fmt.Errorf("failed to replace directory %q: %w", dst, err)
		}
	}

	srcFile, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source %q: %w", src, err)
	}
	defer func() {
		_ = srcFile.Close()
	}()

	tmpPath := fs.Join(dir, tmpPrefix+filepath.Base(dst))
	tmpFile, err := fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", tmpPath, err)
	}
	defer func() {
		_ = fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to copy %q: %w", src, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to write %q: %w", tmpPath, err)
	}

	// umask may have narrowed the mode passed to OpenFile
	if ch, ok := fs.(billy.Change); ok {
		if err := ch.Chmod(tmpPath, srcInfo.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to set permissions on %q: %w", tmpPath, err)
		}
	}

	if err := fs.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to move %q into place: %w", dst, err)
	}
	return nil
}

// DeleteFile removes a single file or symlink. A missing path is not an
// error.
func DeleteFile(fs billy.Filesystem, path string) error {
	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file %q: %w", path, err)
	}
	return nil
}

// CopyDir recursively copies src into dst, merging with an existing
// directory. Entries whose name matches ig are skipped, symlinks are
// recreated as symlinks, and anything that is neither a file, a directory
// nor a symlink is skipped.
func CopyDir(fs billy.Filesystem, src, dst string, ig *ignore.Matcher) error {
	srcInfo, err := fs.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source %q: %w", src, err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("source %q is not a directory", src)
	}

	if info, err := fs.Lstat(dst); err == nil && !info.IsDir() {
		if err := fs.Remove(dst); err != nil {
			return fmt.Errorf("failed to replace %q: %w", dst, err)
		}
	}
	if err := fs.MkdirAll(dst, srcInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dst, err)
	}

	entries, err := fs.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read directory %q: %w", src, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if ig.Match(name) {
			continue
		}
		srcPath := fs.Join(src, name)
		dstPath := fs.Join(dst, name)

		info, err := fs.Lstat(srcPath)
		if err != nil {
			return fmt.Errorf("failed to lstat %q: %w", srcPath, err)
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			if err := CopyLink(fs, srcPath, dstPath); err != nil {
				return err
			}
		case info.IsDir():
			if err := CopyDir(fs, srcPath, dstPath, ig); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := CopyFile(fs, srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteDir removes a directory and everything below it. A missing path is
// not an error.
func DeleteDir(fs billy.Filesystem, path string) error {
	if err := util.RemoveAll(fs, path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete directory %q: %w", path, err)
	}
	return nil
}

// CopyLink recreates the symlink src at dst with the same target, replacing
// whatever is at dst. The target is not followed and need not exist.
func CopyLink(fs billy.Filesystem, src, dst string) error {
	target, err := fs.Readlink(src)
	if err != nil {
		return fmt.Errorf("failed to read symlink %q: %w", src, err)
	}
	dir := filepath.Dir(dst)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	if err := util.RemoveAll(fs, dst); err != nil {
		return fmt.Errorf("failed to replace %q: %w", dst, err)
	}
	if err := fs.Symlink(target, dst); err != nil {
		return fmt.Errorf("failed to create symlink %q: %w", dst, err)
	}
	return nil
}
