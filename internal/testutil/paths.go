package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// FindProjectRoot returns the module root: the nearest directory holding
// go.mod above the caller's source file.
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}
	return findUp(filepath.Dir(filename), "go.mod")
}

// BuildBinary compiles the main package pkg (relative to the module root)
// into dir and returns the path of the binary.
func BuildBinary(ctx context.Context, pkg, dir string, output io.Writer) (string, error) {
	root, err := FindProjectRoot()
	if err != nil {
		return "", err
	}

	bin := filepath.Join(dir, filepath.Base(pkg))
	cmd := exec.CommandContext(ctx, "go", "build", "-o", bin, pkg)
	cmd.Dir = root
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("go build %s: %w", pkg, err)
	}
	return bin, nil
}

// findUp walks from dir towards the filesystem root until it finds name.
func findUp(dir, name string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found in any parent directory", name)
		}
		dir = parent
	}
}
