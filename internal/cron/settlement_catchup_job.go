package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/shipsplit-backend/internal/settlement"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
)

type payoutCatchUp interface {
	CatchUpAll(ctx context.Context) (*settlement.Report, error)
}

// SettlementCatchUpJobParams configure the payout sweep.
type SettlementCatchUpJobParams struct {
	Logger     *logger.Logger
	Settlement payoutCatchUp
}

// NewSettlementCatchUpJob builds the job that retries deferred and failed payouts
// for every payee with an enabled account.
func NewSettlementCatchUpJob(params SettlementCatchUpJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement engine required")
	}
	return &settlementCatchUpJob{logg: params.Logger, settlement: params.Settlement}, nil
}

type settlementCatchUpJob struct {
	logg       *logger.Logger
	settlement payoutCatchUp
}

func (j *settlementCatchUpJob) Name() string { return "settlement-catch-up" }

func (j *settlementCatchUpJob) Run(ctx context.Context) error {
	report, err := j.settlement.CatchUpAll(ctx)
	if report != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"settled":         report.Count(settlement.OutcomeSettled),
			"already_settled": report.Count(settlement.OutcomeAlreadySettled),
			"deferred":        report.Count(settlement.OutcomeDeferred),
			"failed":          report.Count(settlement.OutcomeFailed),
			"unconfirmed":     report.Count(settlement.OutcomeUnconfirmed),
		})
		j.logg.Info(logCtx, "settlement catch-up complete")
	}
	if err != nil {
		return fmt.Errorf("settlement catch-up: %w", err)
	}
	return nil
}
