package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
)

// VendorPayout is the single settlement row for a vendor's share of an order.
type VendorPayout struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	VendorID    uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:ux_vendor_payouts_vendor_order,priority:1"`
	OrderID     uuid.UUID          `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_vendor_payouts_vendor_order,priority:2"`
	GrossCents  int64              `gorm:"column:gross_cents;not null"`
	FeeCents    int64              `gorm:"column:fee_cents;not null"`
	NetCents    int64              `gorm:"column:net_cents;not null"`
	FeePercent  int64              `gorm:"column:fee_percent;not null"`
	Status      enums.PayoutStatus `gorm:"column:status;type:text;not null;index"`
	Attempts    int                `gorm:"column:attempts;not null"`
	TransferRef *string            `gorm:"column:transfer_ref;index"`
	LastError   *string            `gorm:"column:last_error"`
	Method      enums.PayoutMethod `gorm:"column:method;type:text;not null"`
	Note        string             `gorm:"column:note;not null"`
	PaidAt      *time.Time         `gorm:"column:paid_at"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *VendorPayout) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// DriverPayout is the single settlement row for a driver's delivery fee.
type DriverPayout struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	DriverID    uuid.UUID          `gorm:"column:driver_id;type:uuid;not null;uniqueIndex:ux_driver_payouts_driver_delivery,priority:1"`
	DeliveryID  uuid.UUID          `gorm:"column:delivery_id;type:uuid;not null;uniqueIndex:ux_driver_payouts_driver_delivery,priority:2"`
	OrderID     uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	AmountCents int64              `gorm:"column:amount_cents;not null"`
	Status      enums.PayoutStatus `gorm:"column:status;type:text;not null;index"`
	Attempts    int                `gorm:"column:attempts;not null"`
	TransferRef *string            `gorm:"column:transfer_ref;index"`
	LastError   *string            `gorm:"column:last_error"`
	Method      enums.PayoutMethod `gorm:"column:method;type:text;not null"`
	Note        string             `gorm:"column:note;not null"`
	PaidAt      *time.Time         `gorm:"column:paid_at"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *DriverPayout) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PayoutAccount maps a payee to its connected processor account.
type PayoutAccount struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PayeeID           uuid.UUID       `gorm:"column:payee_id;type:uuid;not null;uniqueIndex:ux_payout_accounts_payee,priority:1"`
	Kind              enums.PayeeKind `gorm:"column:kind;type:text;not null;uniqueIndex:ux_payout_accounts_payee,priority:2"`
	ExternalAccountID string          `gorm:"column:external_account_id;not null;uniqueIndex:ux_payout_accounts_external"`
	PayoutsEnabled    bool            `gorm:"column:payouts_enabled;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *PayoutAccount) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// Ready reports whether transfers may be sent to this account.
func (a *PayoutAccount) Ready() bool {
	return a != nil && a.PayoutsEnabled && a.ExternalAccountID != ""
}
