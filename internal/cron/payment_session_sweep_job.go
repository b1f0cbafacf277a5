package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
)

const defaultSweepBatch = 200

type abandonedSweeper interface {
	SweepAbandoned(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// PaymentSessionSweepJobParams configure the abandoned checkout sweep.
type PaymentSessionSweepJobParams struct {
	Logger     *logger.Logger
	Orders     abandonedSweeper
	SessionTTL time.Duration
	Grace      time.Duration
	BatchSize  int
}

// NewPaymentSessionSweepJob builds the job that cancels card orders whose
// session expired without a webhook reaching us.
func NewPaymentSessionSweepJob(params PaymentSessionSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.SessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &paymentSessionSweepJob{
		logg:   params.Logger,
		orders: params.Orders,
		window: params.SessionTTL + params.Grace,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type paymentSessionSweepJob struct {
	logg   *logger.Logger
	orders abandonedSweeper
	window time.Duration
	batch  int
	now    func() time.Time
}

func (j *paymentSessionSweepJob) Name() string { return "payment-session-sweep" }

func (j *paymentSessionSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	cancelled, err := j.orders.SweepAbandoned(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("sweep abandoned sessions (%d cancelled): %w", cancelled, err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"cancelled": cancelled,
	})
	j.logg.Info(logCtx, "abandoned session sweep complete")
	return nil
}
