package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultRemote is the remote used when none is configured.
const DefaultRemote = "origin"

var (
	// ErrNotRepository is returned when the directory is not inside a git work tree.
	ErrNotRepository = errors.New("not a git repository")
	// ErrBareRepository is returned for repositories without a work tree.
	ErrBareRepository = errors.New("repository is bare")
	// ErrRemoteMissing is returned when the configured remote does not exist.
	ErrRemoteMissing = errors.New("remote not configured")
	// ErrNothingToCommit is returned by CommitAll when the work tree is clean.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// Client provides the git operations needed to publish a synced repository
type Client interface {
	// Verify checks that repoDir is a non-bare repository with the configured remote
	Verify(ctx context.Context, repoDir string) error
	// Pull fast-forwards the current branch from the remote
	Pull(ctx context.Context, repoDir string) error
	// CommitAll stages every change in the work tree and commits it
	CommitAll(ctx context.Context, repoDir, message string) (string, error)
	// Push sends the current branch to the remote
	Push(ctx context.Context, repoDir string) error
}

// Options configures a Client.
type Options struct {
	Remote         string
	AuthorName     string
	AuthorEmail    string
	SSHKeyFile     string
	HTTPSTokenFile string
}

func (o Options) remote() string {
	if o.Remote == "" {
		return DefaultRemote
	}
	return o.Remote
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	opts Options
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(opts Options) *ShellClient {
	return &ShellClient{opts: opts}
}

// Verify checks the work tree and the remote
func (c *ShellClient) Verify(ctx context.Context, repoDir string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", "--is-bare-repository")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotRepository, repoDir)
	}
	if strings.TrimSpace(string(output)) == "true" {
		return fmt.Errorf("%w: %s", ErrBareRepository, repoDir)
	}

	if _, err := c.remoteURL(ctx, repoDir); err != nil {
		return err
	}
	return nil
}

// Pull fetches and fast-forwards the current branch. A branch that does not
// exist on the remote yet has nothing to pull.
func (c *ShellClient) Pull(ctx context.Context, repoDir string) error {
	url, err := c.remoteURL(ctx, repoDir)
	if err != nil {
		return err
	}

	branch, err := c.currentBranch(ctx, repoDir)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "ls-remote", "--exit-code", "--heads", c.opts.remote(), branch)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if err := c.runCommand(cmd); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
			return nil
		}
		return fmt.Errorf("git ls-remote failed: %w", err)
	}

	cmd = exec.CommandContext(ctx, "git", "-C", repoDir, "pull", "--ff-only", c.opts.remote(), branch)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git pull failed: %w", err)
	}
	return nil
}

// CommitAll stages all changes including deletions and commits them
func (c *ShellClient) CommitAll(ctx context.Context, repoDir, message string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "add", "-A")
	if err := c.runCommand(cmd); err != nil {
		return "", fmt.Errorf("git add failed: %w", err)
	}

	// diff --quiet exits 1 when something is staged
	cmd = exec.CommandContext(ctx, "git", "-C", repoDir, "diff", "--cached", "--quiet")
	err := c.runCommand(cmd)
	if err == nil {
		return "", ErrNothingToCommit
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		return "", fmt.Errorf("git diff failed: %w", err)
	}

	args := []string{"git", "-C", repoDir}
	if c.opts.AuthorName != "" {
		args = append(args, "-c", "user.name="+c.opts.AuthorName)
	}
	if c.opts.AuthorEmail != "" {
		args = append(args, "-c", "user.email="+c.opts.AuthorEmail)
	}
	args = append(args, "commit", "-m", message)
	cmd = exec.CommandContext(ctx, args[0], args[1:]...)
	if err := c.runCommand(cmd); err != nil {
		return "", fmt.Errorf("git commit failed: %w", err)
	}

	cmd = exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Push pushes the current branch to the branch of the same name on the remote
func (c *ShellClient) Push(ctx context.Context, repoDir string) error {
	url, err := c.remoteURL(ctx, repoDir)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "push", c.opts.remote(), "HEAD")
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git push failed: %w", err)
	}
	return nil
}

func (c *ShellClient) remoteURL(ctx context.Context, repoDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "remote", "get-url", c.opts.remote())
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrRemoteMissing, c.opts.remote())
	}
	return strings.TrimSpace(string(output)), nil
}

func (c *ShellClient) currentBranch(ctx context.Context, repoDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "symbolic-ref", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to determine current branch (detached HEAD?): %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.opts.SSHKeyFile != "" && isSSH(url) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.opts.SSHKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.opts.HTTPSTokenFile != "" && isHTTPS(url) {
		token, err := readToken(c.opts.HTTPSTokenFile)
		if err != nil {
			return err
		}

		// The token travels in the environment and is read back by an
		// inline credential helper, never through a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "GITSYNC_GIT_TOKEN="+token)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$GITSYNC_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before "-C" and the subcommand.
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func readToken(path string) (string, error) {
	token, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read HTTPS token file: %w", err)
	}
	return strings.TrimSpace(string(token)), nil
}

func isSSH(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

func isHTTPS(url string) bool {
	return strings.HasPrefix(url, "https://")
}

// runCommand executes a command and returns an error with its output on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
