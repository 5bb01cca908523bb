package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	defaultPaymentSyncAge   = 15 * time.Minute
	defaultPaymentSyncBatch = 50
)

type PaymentSyncJobParams struct {
	Logger    *logger.Logger
	Payments  paymentSyncer
	OlderThan time.Duration
	Limit     int
}

type paymentSyncer interface {
	SyncStalePayments(ctx context.Context, olderThan time.Duration, limit int) (payments.SyncReport, error)
}

// NewPaymentSyncJob polls the processor for intent payments that stayed
// PENDING longer than OlderThan. It covers webhooks that never arrived.
func NewPaymentSyncJob(params PaymentSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	olderThan := params.OlderThan
	if olderThan <= 0 {
		olderThan = defaultPaymentSyncAge
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPaymentSyncBatch
	}
	return &paymentSyncJob{
		logg:      params.Logger,
		payments:  params.Payments,
		olderThan: olderThan,
		limit:     limit,
	}, nil
}

type paymentSyncJob struct {
	logg      *logger.Logger
	payments  paymentSyncer
	olderThan time.Duration
	limit     int
}

func (j *paymentSyncJob) Name() string { return "payment-sync" }

func (j *paymentSyncJob) Run(ctx context.Context) error {
	report, err := j.payments.SyncStalePayments(ctx, j.olderThan, j.limit)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked":   report.Checked,
		"completed": report.Completed,
		"failed":    report.Failed,
	})
	if err != nil {
		return fmt.Errorf("payment sync: %w", err)
	}
	if report.Checked > 0 {
		j.logg.Info(logCtx, "stale payments synced")
	}
	return nil
}
