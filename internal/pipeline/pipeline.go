package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/deployhook/internal/checkout"
	"github.com/mattjoyce/deployhook/internal/history"
	"github.com/mattjoyce/deployhook/internal/runner"
	"github.com/mattjoyce/deployhook/internal/webhook"
)

// Request is an inbound delivery with its body already read.
type Request struct {
	Method string
	Header http.Header
	Body   []byte
}

// Pipeline orchestrates deliveries. It is safe for concurrent use when its
// collaborators are.
type Pipeline struct {
	resolver   Resolver
	reconciler Reconciler
	runner     Runner
	locker     Locker
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline. recorder may be nil to disable run history.
func New(resolver Resolver, reconciler Reconciler, run Runner, locker Locker, recorder Recorder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		resolver:   resolver,
		reconciler: reconciler,
		runner:     run,
		locker:     locker,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
	}
}

// Run processes one delivery and returns its outcome. It never panics on
// bad input and never returns a nil-status outcome.
func (p *Pipeline) Run(ctx context.Context, req Request) Outcome {
	runID := uuid.NewString()
	rec := history.Run{
		ID:         runID,
		DeliveryID: req.Header.Get(webhook.HeaderDelivery),
		StartedAt:  p.now(),
	}
	logger := p.logger.With("run_id", runID)

	out, authenticated := p.run(ctx, req, logger, &rec)
	out.RunID = runID

	switch out.Status {
	case StatusSucceeded:
		logger.Info("delivery succeeded", "skipped", out.Skipped)
	case StatusRejected:
		logger.Warn("delivery rejected", "code", out.Code, "reason", out.Message)
	default:
		logger.Error("delivery failed", "code", out.Code, "error", out.Message)
	}

	// Only authenticated runs are kept so unsigned traffic cannot grow the history.
	if authenticated && p.recorder != nil {
		rec.Status = string(out.Status)
		rec.Code = out.Code
		rec.Message = out.Message
		if out.Skipped {
			rec.Message = "skipped: not the production branch"
		}
		rec.FinishedAt = p.now()
		if err := p.recorder.Record(ctx, rec); err != nil {
			logger.Error("failed to record run", "error", err)
		}
	}

	return out
}

func (p *Pipeline) run(ctx context.Context, req Request, logger *slog.Logger, rec *history.Run) (Outcome, bool) {
	n, err := webhook.Parse(req.Method, req.Header, req.Body)
	if err != nil {
		return OutcomeFor(err), false
	}
	rec.Repository = n.FullName
	if n.Ref != nil {
		rec.Ref = *n.Ref
	}
	if n.HeadCommit != nil {
		rec.CommitID = *n.HeadCommit
	}
	logger = logger.With("repository", n.FullName)

	repo, ok := p.resolver.Resolve(n.FullName)
	if !ok {
		return OutcomeFor(fmt.Errorf("%w for '%s'", ErrNotConfigured, n.FullName)), false
	}

	if repo.HasSecret() {
		if !webhook.VerifySignature(repo.Secret, req.Body, req.Header.Get(webhook.HeaderSignature)) {
			return OutcomeFor(ErrBadSignature), false
		}
	} else {
		logger.Debug("no secret configured, signature not checked")
	}

	release, err := p.locker.Acquire(repo.CheckoutDir)
	if err != nil {
		return OutcomeFor(fmt.Errorf("lock checkout: %w", err)), true
	}
	defer release()

	res, err := p.reconciler.Reconcile(ctx, n, repo)
	if err != nil {
		return OutcomeFor(err), true
	}
	if res == checkout.Skipped {
		out := OutcomeFor(nil)
		out.Skipped = true
		return out, true
	}

	env, err := BuildEnv(repo)
	if err != nil {
		return OutcomeFor(err), true
	}

	for _, inv := range []runner.Invocation{
		{Name: "build", Argv: repo.Build, Dir: repo.CheckoutDir, Env: env, Timeout: repo.Timeout},
		{Name: "deploy", Argv: repo.Deploy, Dir: repo.CheckoutDir, Env: env, Timeout: repo.Timeout},
	} {
		if err := p.runner.Run(ctx, inv); err != nil {
			return OutcomeFor(err), true
		}
	}

	return OutcomeFor(nil), true
}
