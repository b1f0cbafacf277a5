package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
)

type fakeRefundResumer struct {
	before time.Time
	limit  int
	n      int
	err    error
}

func (f *fakeRefundResumer) ResumePending(_ context.Context, before time.Time, limit int) (int, error) {
	f.before = before
	f.limit = limit
	return f.n, f.err
}

func TestRefundResumeUsesDelayedCutoff(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	resumer := &fakeRefundResumer{n: 2}
	jobIface, err := NewRefundResumeJob(RefundResumeJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Refunds: resumer,
		After:   15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewRefundResumeJob: %v", err)
	}
	job := jobIface.(*refundResumeJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-15 * time.Minute); !resumer.before.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, resumer.before)
	}
	if resumer.limit != defaultRefundResumeBatch {
		t.Fatalf("expected batch %d, got %d", defaultRefundResumeBatch, resumer.limit)
	}
	if job.Name() != "refund-resume" {
		t.Fatalf("unexpected name %q", job.Name())
	}
}

func TestRefundResumePropagatesError(t *testing.T) {
	jobIface, err := NewRefundResumeJob(RefundResumeJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Refunds: &fakeRefundResumer{err: errors.New("processor unavailable")},
		After:   time.Minute,
	})
	if err != nil {
		t.Fatalf("NewRefundResumeJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRefundResumeRequiresDelay(t *testing.T) {
	_, err := NewRefundResumeJob(RefundResumeJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Refunds: &fakeRefundResumer{},
	})
	if err == nil {
		t.Fatal("expected error without delay")
	}
}
