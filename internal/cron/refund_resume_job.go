package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
)

const defaultRefundResumeBatch = 50

type pendingRefundResumer interface {
	ResumePending(ctx context.Context, before time.Time, limit int) (int, error)
}

// RefundResumeJobParams configure the replay of refunds whose processor
// answer never arrived.
type RefundResumeJobParams struct {
	Logger    *logger.Logger
	Refunds   pendingRefundResumer
	After     time.Duration
	BatchSize int
}

// NewRefundResumeJob builds the job that resubmits pending refunds older than
// After with their original idempotency key.
func NewRefundResumeJob(params RefundResumeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refunds service required")
	}
	if params.After <= 0 {
		return nil, fmt.Errorf("resume delay required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRefundResumeBatch
	}
	return &refundResumeJob{
		logg:    params.Logger,
		refunds: params.Refunds,
		after:   params.After,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type refundResumeJob struct {
	logg    *logger.Logger
	refunds pendingRefundResumer
	after   time.Duration
	batch   int
	now     func() time.Time
}

func (j *refundResumeJob) Name() string { return "refund-resume" }

func (j *refundResumeJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	finished, err := j.refunds.ResumePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("resume pending refunds (%d finished): %w", finished, err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"finished": finished,
	})
	j.logg.Info(logCtx, "pending refund replay complete")
	return nil
}
