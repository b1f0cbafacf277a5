package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
)

const (
	outboxRetentionDays = 14
	outboxMinAttempts   = 10
)

// OutboxRetentionJobParams configure pruning of delivered domain events.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPruner
	Retention   int
	MinAttempts int
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		pruner:      params.Repository,
		retention:   time.Duration(outboxRetentionDays) * 24 * time.Hour,
		minAttempts: outboxMinAttempts,
		now:         time.Now,
	}
	if params.Retention > 0 {
		job.retention = time.Duration(params.Retention) * 24 * time.Hour
	}
	if params.MinAttempts > 0 {
		job.minAttempts = params.MinAttempts
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	pruner      outboxPruner
	retention   time.Duration
	minAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var pruned int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.pruner.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts)
		pruned = n
		return err
	})
	if err != nil {
		return fmt.Errorf("prune outbox: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"min_attempts": j.minAttempts,
		"pruned":       pruned,
	}), "outbox pruned")
	return nil
}
