package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
)

type fakeSweeper struct {
	cutoff time.Time
	limit  int
	n      int
	err    error
}

func (f *fakeSweeper) SweepAbandoned(_ context.Context, cutoff time.Time, limit int) (int, error) {
	f.cutoff = cutoff
	f.limit = limit
	return f.n, f.err
}

func TestPaymentSessionSweepCutoffIncludesGrace(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	sweeper := &fakeSweeper{n: 3}
	jobIface, err := NewPaymentSessionSweepJob(PaymentSessionSweepJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Orders:     sweeper,
		SessionTTL: 30 * time.Minute,
		Grace:      15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewPaymentSessionSweepJob: %v", err)
	}
	job := jobIface.(*paymentSessionSweepJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-45 * time.Minute); !sweeper.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, sweeper.cutoff)
	}
	if sweeper.limit != defaultSweepBatch {
		t.Fatalf("expected batch %d, got %d", defaultSweepBatch, sweeper.limit)
	}
}

func TestPaymentSessionSweepPropagatesError(t *testing.T) {
	jobIface, err := NewPaymentSessionSweepJob(PaymentSessionSweepJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Orders:     &fakeSweeper{n: 1, err: errors.New("db down")},
		SessionTTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewPaymentSessionSweepJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPaymentSessionSweepRequiresTTL(t *testing.T) {
	_, err := NewPaymentSessionSweepJob(PaymentSessionSweepJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Orders: &fakeSweeper{},
	})
	if err == nil {
		t.Fatal("expected error without ttl")
	}
}
