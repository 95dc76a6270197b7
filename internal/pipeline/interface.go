package pipeline

import (
	"context"

	"github.com/mattjoyce/deployhook/internal/checkout"
	"github.com/mattjoyce/deployhook/internal/config"
	"github.com/mattjoyce/deployhook/internal/history"
	"github.com/mattjoyce/deployhook/internal/runner"
	"github.com/mattjoyce/deployhook/internal/webhook"
)

//go:generate mockgen -destination=mocks/mock_pipeline.go -package=mocks github.com/mattjoyce/deployhook/internal/pipeline Resolver,Reconciler,Runner,Locker,Recorder

// Resolver looks up repository configuration by full name.
type Resolver interface {
	Resolve(fullName string) (config.Repository, bool)
}

// Reconciler brings a checkout to the pushed commit.
type Reconciler interface {
	Reconcile(ctx context.Context, n *webhook.PushNotification, repo config.Repository) (checkout.Result, error)
}

// Runner executes build and deploy invocations.
type Runner interface {
	Run(ctx context.Context, inv runner.Invocation) error
}

// Locker serializes runs on a checkout directory.
type Locker interface {
	Acquire(dir string) (func(), error)
}

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, run history.Run) error
}
