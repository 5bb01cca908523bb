package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/internal/reconciler"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type fakeSyncer struct {
	olderThan time.Duration
	limit     int
	report    payments.SyncReport
	err       error
}

func (f *fakeSyncer) SyncStalePayments(_ context.Context, olderThan time.Duration, limit int) (payments.SyncReport, error) {
	f.olderThan = olderThan
	f.limit = limit
	return f.report, f.err
}

type fakeReplayer struct {
	maxAttempts int
	limit       int
	report      reconciler.ReplayReport
	err         error
}

func (f *fakeReplayer) ReplayFailed(_ context.Context, maxAttempts, limit int) (reconciler.ReplayReport, error) {
	f.maxAttempts = maxAttempts
	f.limit = limit
	return f.report, f.err
}

func TestPaymentSyncJobAppliesDefaults(t *testing.T) {
	syncer := &fakeSyncer{report: payments.SyncReport{Checked: 3, Completed: 1}}
	job, err := NewPaymentSyncJob(PaymentSyncJobParams{Logger: logger.Nop(), Payments: syncer})
	if err != nil {
		t.Fatalf("NewPaymentSyncJob: %v", err)
	}
	if job.Name() != "payment-sync" {
		t.Fatalf("unexpected name %s", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if syncer.olderThan != defaultPaymentSyncAge || syncer.limit != defaultPaymentSyncBatch {
		t.Fatalf("expected defaults, got %s/%d", syncer.olderThan, syncer.limit)
	}
}

func TestPaymentSyncJobPropagatesError(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("processor down")}
	job, _ := NewPaymentSyncJob(PaymentSyncJobParams{
		Logger:    logger.Nop(),
		Payments:  syncer,
		OlderThan: time.Hour,
		Limit:     5,
	})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if syncer.olderThan != time.Hour || syncer.limit != 5 {
		t.Fatalf("configured values not passed through: %s/%d", syncer.olderThan, syncer.limit)
	}
}

func TestWebhookReplayJob(t *testing.T) {
	replayer := &fakeReplayer{report: reconciler.ReplayReport{Replayed: 2, Processed: 1, Failed: 1}}
	job, err := NewWebhookReplayJob(WebhookReplayJobParams{
		Logger:      logger.Nop(),
		Reconciler:  replayer,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewWebhookReplayJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if replayer.maxAttempts != 3 || replayer.limit != defaultReplayBatch {
		t.Fatalf("unexpected arguments %d/%d", replayer.maxAttempts, replayer.limit)
	}

	replayer.err = errors.New("db gone")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	if _, err := NewPaymentSyncJob(PaymentSyncJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without payments service")
	}
	if _, err := NewWebhookReplayJob(WebhookReplayJobParams{Reconciler: &fakeReplayer{}}); err == nil {
		t.Fatal("expected error without logger")
	}
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without repository")
	}
}
