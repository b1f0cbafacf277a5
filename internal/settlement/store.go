package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/db"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
)

// claim is a payout row this caller now owns for one transfer attempt.
type claim struct {
	id      uuid.UUID
	attempt int
}

type payoutState struct {
	ID        uuid.UUID
	Status    enums.PayoutStatus
	Attempts  int
	UpdatedAt time.Time
}

// claimPayout either inserts the payout row or takes over a failed or stale
// one. A nil claim means the payout is paid or another worker holds it.
func claimPayout(ctx context.Context, tx *gorm.DB, model any, key map[string]any, insert func(tx *gorm.DB) (uuid.UUID, error), staleBefore time.Time) (*claim, error) {
	var rows []payoutState
	if err := tx.WithContext(ctx).Model(model).Where(key).Select("id", "status", "attempts", "updated_at").Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// savepoint keeps the outer transaction usable after a duplicate insert
		var id uuid.UUID
		err := tx.Transaction(func(sp *gorm.DB) error {
			var insertErr error
			id, insertErr = insert(sp)
			return insertErr
		})
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return nil, nil
			}
			return nil, err
		}
		return &claim{id: id, attempt: 1}, nil
	}

	row := rows[0]
	switch {
	case row.Status == enums.PayoutStatusPaid:
		return nil, nil
	case row.Status == enums.PayoutStatusPending && row.UpdatedAt.After(staleBefore):
		return nil, nil
	}

	// A stale pending row may already have a transfer behind it, so it keeps
	// its attempt number and the processor deduplicates on the same key.
	// A failed row starts a new attempt.
	attempt := row.Attempts
	query := tx.WithContext(ctx).Model(model).Where("id = ? AND attempts = ?", row.ID, row.Attempts)
	if row.Status == enums.PayoutStatusPending {
		query = query.Where("status = ? AND updated_at <= ?", enums.PayoutStatusPending, staleBefore)
	} else {
		attempt++
		query = query.Where("status = ?", enums.PayoutStatusFailed)
	}
	res := query.Updates(map[string]any{
		"attempts":   attempt,
		"status":     enums.PayoutStatusPending,
		"last_error": nil,
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &claim{id: row.ID, attempt: attempt}, nil
}

func markPaid(ctx context.Context, tx *gorm.DB, model any, id uuid.UUID, transferRef string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Model(model).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Updates(map[string]any{
			"status":       enums.PayoutStatusPaid,
			"transfer_ref": transferRef,
			"paid_at":      at,
			"last_error":   nil,
		})
	return res.RowsAffected == 1, res.Error
}

func markFailed(ctx context.Context, tx *gorm.DB, model any, id uuid.UUID, reason string) error {
	return tx.WithContext(ctx).Model(model).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Updates(map[string]any{
			"status":     enums.PayoutStatusFailed,
			"last_error": truncate(reason, 500),
		}).Error
}

// markUnconfirmed notes the error on a pending payout without releasing it.
// The row keeps its attempt number so the stale replay reuses the same key.
func markUnconfirmed(ctx context.Context, tx *gorm.DB, model any, id uuid.UUID, reason string) error {
	return tx.WithContext(ctx).Model(model).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Update("last_error", truncate(reason, 500)).Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
