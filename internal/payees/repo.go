package payees

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shipsplit-backend/pkg/db"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
)

// Repository stores the connected payout account of each vendor and driver.
type Repository struct {
	gdb *gorm.DB
}

func NewRepository(gdb *gorm.DB) *Repository {
	return &Repository{gdb: gdb}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{gdb: tx}
}

// FindByPayee returns nil without error when the payee never onboarded.
func (r *Repository) FindByPayee(ctx context.Context, kind enums.PayeeKind, payeeID uuid.UUID) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	err := r.gdb.WithContext(ctx).Where("payee_id = ? AND kind = ?", payeeID, kind).First(&account).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout account")
	}
	return &account, nil
}

func (r *Repository) FindByExternalAccount(ctx context.Context, externalID string) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	err := r.gdb.WithContext(ctx).Where("external_account_id = ?", externalID).First(&account).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout account")
	}
	return &account, nil
}

// Upsert links a payee to a processor account, replacing any previous link.
func (r *Repository) Upsert(ctx context.Context, account *models.PayoutAccount) error {
	if account.PayeeID == uuid.Nil || !account.Kind.IsValid() || account.ExternalAccountID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payee id, kind and external account required")
	}
	err := r.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payee_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"external_account_id", "payouts_enabled", "updated_at"}),
	}).Create(account).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save payout account")
	}
	return nil
}

// SetPayoutsEnabled flips the onboarding flag. It reports whether the flag
// moved from false to true.
func (r *Repository) SetPayoutsEnabled(ctx context.Context, externalID string, enabled bool) (*models.PayoutAccount, bool, error) {
	account, err := r.FindByExternalAccount(ctx, externalID)
	if err != nil {
		return nil, false, err
	}
	if account.PayoutsEnabled == enabled {
		return account, false, nil
	}
	res := r.gdb.WithContext(ctx).
		Model(&models.PayoutAccount{}).
		Where("id = ? AND payouts_enabled = ?", account.ID, !enabled).
		Update("payouts_enabled", enabled)
	if res.Error != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update payout account")
	}
	account.PayoutsEnabled = enabled
	return account, enabled && res.RowsAffected == 1, nil
}

func (r *Repository) ListEnabled(ctx context.Context, kind enums.PayeeKind) ([]models.PayoutAccount, error) {
	var accounts []models.PayoutAccount
	err := r.gdb.WithContext(ctx).
		Where("kind = ? AND payouts_enabled = ?", kind, true).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payout accounts")
	}
	return accounts, nil
}
