package checkout

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deployhook/internal/config"
	"github.com/mattjoyce/deployhook/internal/log"
	"github.com/mattjoyce/deployhook/internal/webhook"
)

// go-git's file transport shells out to git-upload-pack.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
}

type upstream struct {
	t    *testing.T
	dir  string
	repo *git.Repository
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "upstream")
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return &upstream{t: t, dir: dir, repo: repo}
}

func (u *upstream) commit(files map[string]string, msg string) string {
	u.t.Helper()
	wt, err := u.repo.Worktree()
	require.NoError(u.t, err)

	for name, content := range files {
		path := filepath.Join(u.dir, name)
		require.NoError(u.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(u.t, os.WriteFile(path, []byte(content), 0o644))
		_, err := wt.Add(name)
		require.NoError(u.t, err)
	}

	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(u.t, err)
	return hash.String()
}

// rewind moves the upstream branch back to commit, like a force-push would.
func (u *upstream) rewind(commit string) {
	u.t.Helper()
	wt, err := u.repo.Worktree()
	require.NoError(u.t, err)
	require.NoError(u.t, wt.Reset(&git.ResetOptions{Commit: plumbing.NewHash(commit), Mode: git.HardReset}))
}

func (u *upstream) repository(checkoutDir string) config.Repository {
	return config.Repository{
		FullName:    "owner/site",
		GitAddress:  u.dir,
		ProdBranch:  "master",
		CheckoutDir: checkoutDir,
	}
}

func pushFor(repo config.Repository, head string) *webhook.PushNotification {
	return &webhook.PushNotification{
		FullName:   repo.FullName,
		CloneURL:   strPtr(repo.GitAddress),
		SSHURL:     strPtr(repo.GitAddress),
		Ref:        strPtr(repo.BranchRef()),
		HeadCommit: strPtr(head),
	}
}

func newGitReconciler() *Reconciler {
	logger := log.WithComponent("checkout")
	return NewReconciler(NewGitBackend(logger), logger)
}

func TestGitReconcileClonesAndFastForwards(t *testing.T) {
	requireGit(t)
	up := newUpstream(t)
	first := up.commit(map[string]string{"README.md": "v1\n", ".gitignore": "build/\n"}, "first")

	checkoutDir := filepath.Join(t.TempDir(), "owner", "site")
	repo := up.repository(checkoutDir)
	r := newGitReconciler()
	ctx := context.Background()

	res, err := r.Reconcile(ctx, pushFor(repo, first), repo)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)

	data, err := os.ReadFile(filepath.Join(checkoutDir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))

	second := up.commit(map[string]string{"README.md": "v2\n", "docs/index.md": "hi\n"}, "second")

	res, err = r.Reconcile(ctx, pushFor(repo, second), repo)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)

	data, err = os.ReadFile(filepath.Join(checkoutDir, "docs", "index.md"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}

func TestGitReconcileRemovesLocalArtifacts(t *testing.T) {
	requireGit(t)
	up := newUpstream(t)
	head := up.commit(map[string]string{"README.md": "tracked\n", ".gitignore": "build/\n*.log\n"}, "first")

	checkoutDir := filepath.Join(t.TempDir(), "site")
	repo := up.repository(checkoutDir)
	r := newGitReconciler()
	ctx := context.Background()

	_, err := r.Reconcile(ctx, pushFor(repo, head), repo)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(checkoutDir, "README.md"), []byte("edited\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(checkoutDir, "stray.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(checkoutDir, "debug.log"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(checkoutDir, "build", "out"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(checkoutDir, "build", "out", "site.html"), []byte("x"), 0o644))

	res, err := r.Reconcile(ctx, pushFor(repo, head), repo)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)

	data, err := os.ReadFile(filepath.Join(checkoutDir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "tracked\n", string(data))

	for _, name := range []string{"stray.txt", "debug.log", "build"} {
		_, err := os.Stat(filepath.Join(checkoutDir, name))
		assert.True(t, errors.Is(err, os.ErrNotExist), "%s should have been removed", name)
	}
	_, err = os.Stat(filepath.Join(checkoutDir, ".git"))
	assert.NoError(t, err)
}

func TestGitReconcileRemoteAheadOfNotification(t *testing.T) {
	requireGit(t)
	up := newUpstream(t)
	first := up.commit(map[string]string{"README.md": "v1\n"}, "first")
	up.commit(map[string]string{"README.md": "v2\n"}, "second")

	repo := up.repository(filepath.Join(t.TempDir(), "site"))

	_, err := newGitReconciler().Reconcile(context.Background(), pushFor(repo, first), repo)

	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce), "want ConsistencyError, got %v", err)
	assert.Equal(t, ReasonHeadMismatch, ce.Reason)
	assert.Equal(t, first, ce.Expected)
}

// racingBackend lets the upstream move between clone and pull.
type racingBackend struct {
	Backend
	beforePull func()
}

func (b racingBackend) OpenOrClone(ctx context.Context, src Source) (Workdir, error) {
	wd, err := b.Backend.OpenOrClone(ctx, src)
	if err != nil {
		return nil, err
	}
	return racingWorkdir{Workdir: wd, beforePull: b.beforePull}, nil
}

type racingWorkdir struct {
	Workdir
	beforePull func()
}

func (w racingWorkdir) Pull(ctx context.Context, branch string) error {
	w.beforePull()
	return w.Workdir.Pull(ctx, branch)
}

func TestGitReconcileRemoteAdvancesDuringReconcile(t *testing.T) {
	requireGit(t)
	up := newUpstream(t)
	head := up.commit(map[string]string{"README.md": "v1\n"}, "first")

	var pushedMeanwhile string
	logger := log.WithComponent("checkout")
	r := NewReconciler(racingBackend{
		Backend: NewGitBackend(logger),
		beforePull: func() {
			pushedMeanwhile = up.commit(map[string]string{"README.md": "v2\n"}, "second")
		},
	}, logger)

	repo := up.repository(filepath.Join(t.TempDir(), "site"))
	_, err := r.Reconcile(context.Background(), pushFor(repo, head), repo)

	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce), "want ConsistencyError, got %v", err)
	assert.Equal(t, ReasonHeadMismatch, ce.Reason)
	assert.Equal(t, head, ce.Expected)
	assert.Equal(t, pushedMeanwhile, ce.Actual)
}

func TestGitReconcileFollowsRewrittenBranch(t *testing.T) {
	requireGit(t)
	up := newUpstream(t)
	first := up.commit(map[string]string{"README.md": "v1\n"}, "first")
	second := up.commit(map[string]string{"README.md": "v2\n"}, "second")

	checkoutDir := filepath.Join(t.TempDir(), "site")
	repo := up.repository(checkoutDir)
	r := newGitReconciler()
	ctx := context.Background()

	_, err := r.Reconcile(ctx, pushFor(repo, second), repo)
	require.NoError(t, err)

	up.rewind(first)
	rewritten := up.commit(map[string]string{"README.md": "v2 amended\n"}, "second, amended")
	require.NotEqual(t, second, rewritten)

	res, err := r.Reconcile(ctx, pushFor(repo, rewritten), repo)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)

	data, err := os.ReadFile(filepath.Join(checkoutDir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2 amended\n", string(data))
}

func TestGitReconcileReplacesForeignCheckout(t *testing.T) {
	requireGit(t)
	up := newUpstream(t)
	head := up.commit(map[string]string{"README.md": "v1\n"}, "first")

	other := newUpstream(t)
	other.commit(map[string]string{"OTHER.md": "nope\n"}, "other")

	checkoutDir := filepath.Join(t.TempDir(), "site")
	_, err := git.PlainClone(checkoutDir, false, &git.CloneOptions{URL: other.dir})
	require.NoError(t, err)

	repo := up.repository(checkoutDir)
	res, err := newGitReconciler().Reconcile(context.Background(), pushFor(repo, head), repo)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)

	_, err = os.Stat(filepath.Join(checkoutDir, "OTHER.md"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(checkoutDir, "README.md"))
	assert.NoError(t, err)
}

func TestGitReconcileReplacesCorruptCheckout(t *testing.T) {
	requireGit(t)
	up := newUpstream(t)
	head := up.commit(map[string]string{"README.md": "v1\n"}, "first")

	checkoutDir := filepath.Join(t.TempDir(), "site")
	require.NoError(t, os.MkdirAll(checkoutDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(checkoutDir, "leftover"), []byte("x"), 0o644))

	repo := up.repository(checkoutDir)
	res, err := newGitReconciler().Reconcile(context.Background(), pushFor(repo, head), repo)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)

	_, err = os.Stat(filepath.Join(checkoutDir, "leftover"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
