package jobs

import (
	"context"

	"alttext/internal/domain"
	"alttext/internal/infra"
)

// Client is the remote job API driven by the Poller. Implementations must
// not retry internally.
type Client interface {
	Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error)
	FetchStatus(ctx context.Context, handle domain.JobHandle) (domain.JobSnapshot, error)
}

// Canceler is implemented by clients able to stop a remote job.
type Canceler interface {
	Cancel(ctx context.Context, handle domain.JobHandle) error
}

// OptionsFromConfig maps the polling settings of cfg onto Options.
func OptionsFromConfig(cfg *infra.Config, client Client, logger *infra.Logger) Options {
	return Options{
		Client:       client,
		Interval:     cfg.PollInterval,
		MaxPolls:     cfg.PollMaxAttempts,
		FetchRetries: cfg.PollFetchRetries,
		CancelRemote: cfg.PollCancelRemote,
		Logger:       logger,
	}
}
