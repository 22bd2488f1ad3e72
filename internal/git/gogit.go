package git

import (
	"context"
	"errors"
	"fmt"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// GoGitClient implements Client in pure Go without a git binary.
type GoGitClient struct {
	opts Options
}

// NewGoGitClient creates a git client backed by go-git.
func NewGoGitClient(opts Options) *GoGitClient {
	return &GoGitClient{opts: opts}
}

// Verify checks the work tree and the remote
func (c *GoGitClient) Verify(_ context.Context, repoDir string) error {
	repo, _, err := c.open(repoDir)
	if err != nil {
		return err
	}
	if _, err := c.remoteURL(repo); err != nil {
		return err
	}
	return nil
}

// Pull fast-forwards the current branch. An unborn branch or a branch that
// does not exist on the remote yet has nothing to pull.
func (c *GoGitClient) Pull(ctx context.Context, repoDir string) error {
	repo, wt, err := c.open(repoDir)
	if err != nil {
		return err
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return fmt.Errorf("failed to determine current branch: HEAD is detached at %s", head.Hash())
	}

	auth, err := c.auth(repo)
	if err != nil {
		return err
	}

	err = wt.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    c.opts.remote(),
		ReferenceName: head.Name(),
		SingleBranch:  true,
		Auth:          auth,
	})
	var noMatch gogit.NoMatchingRefSpecError
	switch {
	case err == nil,
		errors.Is(err, gogit.NoErrAlreadyUpToDate),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.As(err, &noMatch):
		return nil
	default:
		return fmt.Errorf("failed to pull from remote: %w", err)
	}
}

// CommitAll stages all changes including deletions and commits them
func (c *GoGitClient) CommitAll(_ context.Context, repoDir, message string) (string, error) {
	_, wt, err := c.open(repoDir)
	if err != nil {
		return "", err
	}

	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	for path, s := range status {
		if s.Worktree == gogit.Deleted {
			if _, err := wt.Remove(path); err != nil {
				return "", fmt.Errorf("failed to stage removal of %s: %w", path, err)
			}
		}
	}

	status, err = wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	staged := 0
	for _, s := range status {
		if s.Staging != gogit.Untracked && s.Staging != gogit.Unmodified {
			staged++
		}
	}
	if staged == 0 {
		return "", ErrNothingToCommit
	}

	opts := &gogit.CommitOptions{}
	if c.opts.AuthorName != "" || c.opts.AuthorEmail != "" {
		opts.Author = &object.Signature{
			Name:  c.opts.AuthorName,
			Email: c.opts.AuthorEmail,
			When:  time.Now(),
		}
	}

	hash, err := wt.Commit(message, opts)
	if err != nil {
		if errors.Is(err, gogit.ErrEmptyCommit) {
			return "", ErrNothingToCommit
		}
		return "", fmt.Errorf("failed to create commit: %w", err)
	}
	return hash.String(), nil
}

// Push pushes the current branch to the branch of the same name on the remote
func (c *GoGitClient) Push(ctx context.Context, repoDir string) error {
	repo, _, err := c.open(repoDir)
	if err != nil {
		return err
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return fmt.Errorf("failed to determine current branch: HEAD is detached at %s", head.Hash())
	}

	auth, err := c.auth(repo)
	if err != nil {
		return err
	}

	spec := config.RefSpec(fmt.Sprintf("%s:%s", head.Name(), head.Name()))
	err = repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: c.opts.remote(),
		RefSpecs:   []config.RefSpec{spec},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push to remote: %w", err)
	}
	return nil
}

func (c *GoGitClient) open(repoDir string) (*gogit.Repository, *gogit.Worktree, error) {
	repo, err := gogit.PlainOpenWithOptions(repoDir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotRepository, repoDir)
		}
		return nil, nil, fmt.Errorf("failed to open repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, gogit.ErrIsBareRepository) {
			return nil, nil, fmt.Errorf("%w: %s", ErrBareRepository, repoDir)
		}
		return nil, nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	return repo, wt, nil
}

func (c *GoGitClient) remoteURL(repo *gogit.Repository) (string, error) {
	remote, err := repo.Remote(c.opts.remote())
	if err != nil {
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			return "", fmt.Errorf("%w: %q", ErrRemoteMissing, c.opts.remote())
		}
		return "", fmt.Errorf("failed to get remote configuration: %w", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: %q has no URL", ErrRemoteMissing, c.opts.remote())
	}
	return urls[0], nil
}

// auth picks the transport credentials matching the remote URL scheme.
//
//nolint:ireturn // go-git takes a transport.AuthMethod
func (c *GoGitClient) auth(repo *gogit.Repository) (transport.AuthMethod, error) {
	url, err := c.remoteURL(repo)
	if err != nil {
		return nil, err
	}

	switch {
	case c.opts.SSHKeyFile != "" && isSSH(url):
		keys, err := ssh.NewPublicKeysFromFile("git", c.opts.SSHKeyFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from file: %w", err)
		}
		return keys, nil
	case c.opts.HTTPSTokenFile != "" && isHTTPS(url):
		token, err := readToken(c.opts.HTTPSTokenFile)
		if err != nil {
			return nil, err
		}
		return &http.BasicAuth{Username: "x-access-token", Password: token}, nil
	}
	return nil, nil
}
