package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/deployhook/internal/config"
	"github.com/mattjoyce/deployhook/internal/webhook"
)

// Result is the outcome of a successful reconciliation.
type Result int

const (
	// Skipped means the push was not to the production branch; nothing was touched.
	Skipped Result = iota
	// Updated means the checkout now sits at the pushed commit.
	Updated
)

func (r Result) String() string {
	switch r {
	case Skipped:
		return "skipped"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Reasons carried by ConsistencyError.
const (
	ReasonRepositoryMismatch = "repository mismatch"
	ReasonHeadMismatch       = "HEAD mismatch"
)

// ConsistencyError reports that the notification and the repository state
// disagree.
type ConsistencyError struct {
	Reason   string
	Expected string
	Actual   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Reason, e.Expected, e.Actual)
}

// Source identifies a working copy and the remote it tracks.
type Source struct {
	Dir    string
	URL    string
	Branch string
	SSHKey string
}

// Backend opens working copies.
type Backend interface {
	// OpenOrClone returns the working copy at src.Dir, replacing it with a
	// fresh clone of src.URL when it cannot be opened or its origin differs.
	OpenOrClone(ctx context.Context, src Source) (Workdir, error)
}

// Workdir is a working copy the reconciler drives.
type Workdir interface {
	// Clean removes every path that is not part of the HEAD tree.
	Clean() error
	// ResetHard discards changes to tracked files and the index.
	ResetHard() error
	// CheckoutBranch fetches branch from origin and checks it out, creating
	// the local branch from the remote-tracking ref when needed.
	CheckoutBranch(ctx context.Context, branch string) error
	// Pull fast-forwards branch from origin.
	Pull(ctx context.Context, branch string) error
	// Head returns the commit id HEAD points to.
	Head() (string, error)
}

// Reconciler brings checkouts in line with push notifications.
type Reconciler struct {
	backend Backend
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(backend Backend, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{backend: backend, logger: logger}
}

// Reconcile checks n against repo and, for production pushes, updates the
// checkout at repo.CheckoutDir to n's head commit.
//
// Missing notification fields yield *webhook.MissingFieldError. A
// notification for a different remote, or a HEAD that does not match after
// the update, yields *ConsistencyError.
func (r *Reconciler) Reconcile(ctx context.Context, n *webhook.PushNotification, repo config.Repository) (Result, error) {
	logger := r.logger.With("checkout_dir", repo.CheckoutDir)

	origin, err := n.OriginURL(repo.UsesHTTPS())
	if err != nil {
		return Skipped, err
	}
	if origin != repo.GitAddress {
		return Skipped, &ConsistencyError{Reason: ReasonRepositoryMismatch, Expected: repo.GitAddress, Actual: origin}
	}

	ref, err := n.BranchRef()
	if err != nil {
		return Skipped, err
	}
	if ref != repo.BranchRef() {
		logger.Info("push is not to the production branch, skipping", "ref", ref, "prod_branch", repo.ProdBranch)
		return Skipped, nil
	}

	want, err := n.HeadCommitID()
	if err != nil {
		return Skipped, err
	}

	wd, err := r.backend.OpenOrClone(ctx, Source{
		Dir:    repo.CheckoutDir,
		URL:    repo.GitAddress,
		Branch: repo.ProdBranch,
		SSHKey: repo.SSHKey,
	})
	if err != nil {
		return Skipped, fmt.Errorf("open checkout: %w", err)
	}

	if err := wd.Clean(); err != nil {
		return Skipped, fmt.Errorf("clean checkout: %w", err)
	}
	if err := wd.ResetHard(); err != nil {
		return Skipped, fmt.Errorf("reset checkout: %w", err)
	}
	if err := wd.CheckoutBranch(ctx, repo.ProdBranch); err != nil {
		return Skipped, fmt.Errorf("checkout %s: %w", repo.ProdBranch, err)
	}
	if err := wd.Pull(ctx, repo.ProdBranch); err != nil {
		return Skipped, fmt.Errorf("pull %s: %w", repo.ProdBranch, err)
	}

	head, err := wd.Head()
	if err != nil {
		return Skipped, fmt.Errorf("read HEAD: %w", err)
	}
	if head != want {
		return Skipped, &ConsistencyError{Reason: ReasonHeadMismatch, Expected: want, Actual: head}
	}

	logger.Info("checkout updated", "head", head)
	return Updated, nil
}
