//go:build integration

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/gitsync/internal/testutil"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the gitsync binary once and runs it against a scratch
// workspace holding a bare remote, its clone and the sync sources.
type Harness struct {
	t         *testing.T
	binPath   string
	Root      string
	RemoteDir string
	RepoDir   string
	SourceDir string
}

// NewHarness creates a new test harness with an empty workspace
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	root := t.TempDir()
	return &Harness{
		t:         t,
		Root:      root,
		RemoteDir: filepath.Join(root, "remote.git"),
		RepoDir:   filepath.Join(root, "repo"),
		SourceDir: filepath.Join(root, "src"),
	}
}

// BuildBinary compiles cmd/gitsync into the workspace
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	bin, err := testutil.BuildBinary(ctx, "./cmd/gitsync", h.Root, &testWriter{t: h.t, prefix: "[build] "})
	if err != nil {
		return err
	}
	h.binPath = bin
	h.t.Logf("Built %s", h.binPath)
	return nil
}

// SetupRepository creates a bare remote with one commit on main and clones it
func (h *Harness) SetupRepository(ctx context.Context) {
	h.t.Helper()

	seed := filepath.Join(h.Root, "seed")
	h.MustGit(ctx, "", "init", "--bare", "-b", "main", h.RemoteDir)
	h.MustGit(ctx, "", "init", "-b", "main", seed)
	h.WriteFile(filepath.Join(seed, "README.md"), "synced by gitsync\n")
	h.MustGit(ctx, seed, "add", "README.md")
	h.MustGit(ctx, seed, "-c", "user.name=Seed", "-c", "user.email=seed@example.com", "commit", "-m", "Initial commit")
	h.MustGit(ctx, seed, "push", h.RemoteDir, "main")

	h.MustGit(ctx, "", "clone", h.RemoteDir, h.RepoDir)
}

// Run executes the gitsync binary in the workspace root
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binPath == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binPath, args...)
	cmd.Dir = h.Root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes gitsync and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("gitsync failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// MustGit runs git, in dir when set, and returns its trimmed output
func (h *Harness) MustGit(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	out, err := exec.CommandContext(ctx, "git", args...).CombinedOutput()
	if err != nil {
		h.t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// RemoteFile returns the content of path at the tip of the remote main branch
func (h *Harness) RemoteFile(ctx context.Context, path string) (string, bool) {
	h.t.Helper()
	out, err := exec.CommandContext(ctx, "git", "-C", h.RemoteDir, "show", "main:"+path).Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}

// WriteFile writes a file, creating parent directories
func (h *Harness) WriteFile(path, content string) {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// FileExists checks if a path exists
func (h *Harness) FileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
