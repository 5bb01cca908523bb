package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/internal/reconciler"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	defaultReplayMaxAttempts = 5
	defaultReplayBatch       = 25
)

type WebhookReplayJobParams struct {
	Logger      *logger.Logger
	Reconciler  webhookReplayer
	MaxAttempts int
	Limit       int
}

type webhookReplayer interface {
	ReplayFailed(ctx context.Context, maxAttempts, limit int) (reconciler.ReplayReport, error)
}

// NewWebhookReplayJob re-dispatches webhook events whose handler failed,
// until they settle or exhaust MaxAttempts.
func NewWebhookReplayJob(params WebhookReplayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReplayMaxAttempts
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReplayBatch
	}
	return &webhookReplayJob{
		logg:        params.Logger,
		reconciler:  params.Reconciler,
		maxAttempts: maxAttempts,
		limit:       limit,
	}, nil
}

type webhookReplayJob struct {
	logg        *logger.Logger
	reconciler  webhookReplayer
	maxAttempts int
	limit       int
}

func (j *webhookReplayJob) Name() string { return "webhook-replay" }

func (j *webhookReplayJob) Run(ctx context.Context) error {
	report, err := j.reconciler.ReplayFailed(ctx, j.maxAttempts, j.limit)
	if err != nil {
		return fmt.Errorf("webhook replay: %w", err)
	}
	if report.Replayed == 0 {
		return nil
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"replayed":  report.Replayed,
		"processed": report.Processed,
		"failed":    report.Failed,
	})
	j.logg.Info(logCtx, "failed webhook events replayed")
	return nil
}
