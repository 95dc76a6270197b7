package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/mattjoyce/deployhook/internal/workspace"
)

const remoteName = "origin"

// GitBackend implements Backend on go-git.
type GitBackend struct {
	logger *slog.Logger
}

// NewGitBackend creates a go-git backed Backend.
func NewGitBackend(logger *slog.Logger) *GitBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitBackend{logger: logger}
}

// OpenOrClone implements Backend.
func (b *GitBackend) OpenOrClone(ctx context.Context, src Source) (Workdir, error) {
	logger := b.logger.With("checkout_dir", src.Dir)

	auth, err := authFor(src)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainOpen(src.Dir)
	switch {
	case err == nil:
		url, uerr := originURL(repo)
		if uerr == nil && url == src.URL {
			return &gitWorkdir{repo: repo, dir: src.Dir, auth: auth, logger: logger}, nil
		}
		logger.Warn("checkout points at a different remote, re-cloning", "origin", url, "error", uerr)
	case errors.Is(err, git.ErrRepositoryNotExists):
		logger.Info("no checkout yet, cloning", "url", src.URL)
	default:
		logger.Warn("checkout cannot be opened, re-cloning", "error", err)
	}

	if err := os.RemoveAll(src.Dir); err != nil {
		return nil, fmt.Errorf("remove stale checkout: %w", err)
	}
	if err := workspace.PrepareParent(src.Dir); err != nil {
		return nil, err
	}

	opts := &git.CloneOptions{
		URL:        src.URL,
		Auth:       auth,
		RemoteName: remoteName,
	}
	if src.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(src.Branch)
	}
	repo, err = git.PlainCloneContext(ctx, src.Dir, false, opts)
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", src.URL, err)
	}

	return &gitWorkdir{repo: repo, dir: src.Dir, auth: auth, logger: logger}, nil
}

func authFor(src Source) (transport.AuthMethod, error) {
	if src.SSHKey == "" {
		return nil, nil
	}
	keys, err := ssh.NewPublicKeysFromFile("git", src.SSHKey, "")
	if err != nil {
		return nil, fmt.Errorf("load ssh key: %w", err)
	}
	return keys, nil
}

func originURL(repo *git.Repository) (string, error) {
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return "", err
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %q has no URL", remoteName)
	}
	return urls[0], nil
}

type gitWorkdir struct {
	repo   *git.Repository
	dir    string
	auth   transport.AuthMethod
	logger *slog.Logger
}

func (w *gitWorkdir) Clean() error {
	return removeUntracked(w.repo, w.dir)
}

func (w *gitWorkdir) ResetHard() error {
	if _, err := w.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Nothing committed yet.
		return nil
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Reset(&git.ResetOptions{Mode: git.HardReset})
}

func (w *gitWorkdir) CheckoutBranch(ctx context.Context, branch string) error {
	refspec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remoteName, branch))
	err := w.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       w.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch: %w", err)
	}

	wt, err := w.repo.Worktree()
	if err != nil {
		return err
	}

	local := plumbing.NewBranchReferenceName(branch)
	err = wt.Checkout(&git.CheckoutOptions{Branch: local, Force: true})
	if err == nil {
		return nil
	}
	if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return err
	}

	remote, err := w.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return fmt.Errorf("resolve %s/%s: %w", remoteName, branch, err)
	}
	err = w.repo.CreateBranch(&gitconfig.Branch{Name: branch, Remote: remoteName, Merge: local})
	if err != nil && !errors.Is(err, git.ErrBranchExists) {
		return fmt.Errorf("configure branch: %w", err)
	}
	return wt.Checkout(&git.CheckoutOptions{Branch: local, Hash: remote.Hash(), Create: true, Force: true})
}

func (w *gitWorkdir) Pull(ctx context.Context, branch string) error {
	wt, err := w.repo.Worktree()
	if err != nil {
		return err
	}
	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Auth:          w.auth,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		// The branch was rewritten upstream. The local copy holds nothing
		// worth keeping, so follow the fetched remote-tracking ref.
		return w.resetToRemote(wt, branch)
	default:
		return err
	}
}

func (w *gitWorkdir) resetToRemote(wt *git.Worktree, branch string) error {
	remote, err := w.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return fmt.Errorf("resolve %s/%s: %w", remoteName, branch, err)
	}
	w.logger.Warn("production branch was rewritten upstream, resetting to remote", "branch", branch, "commit", remote.Hash().String())
	if err := wt.Reset(&git.ResetOptions{Commit: remote.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("reset to %s/%s: %w", remoteName, branch, err)
	}
	return nil
}

func (w *gitWorkdir) Head() (string, error) {
	ref, err := w.repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}
