package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/internal/fees"
	"github.com/angelmondragon/shipsplit-backend/internal/inventory"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
	"github.com/angelmondragon/shipsplit-backend/pkg/outbox"
	"github.com/angelmondragon/shipsplit-backend/pkg/pagination"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

// Repository defines persistence operations for orders, items and their delivery row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Order, *pagination.Cursor, error)
	ListPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, paidAt time.Time) (bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	MarkStockReleased(ctx context.Context, id uuid.UUID) (bool, error)
	SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string, expiresAt time.Time) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ProductReader is the catalog read surface.
type ProductReader interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// StockLedger reserves and releases product stock inside a caller transaction.
type StockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []inventory.Line) error
	Release(ctx context.Context, tx *gorm.DB, lines []inventory.Line) error
}

// FeeQuoter prices delivery for an address.
type FeeQuoter interface {
	Quote(ctx context.Context, address types.Address) fees.Quote
}

// Sequence hands out monotonically increasing order numbers.
type Sequence interface {
	Next(ctx context.Context) (int64, error)
}

// VendorSettler pays vendors once an order is delivered.
type VendorSettler interface {
	SettleOrder(ctx context.Context, orderID uuid.UUID) error
}
