package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
)

// Line is one product quantity to reserve or release.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// StockAdjuster applies a guarded stock delta. Implemented by catalog.Repository.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, delta, expectedMinimum int) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Ledger reserves and releases stock with per-row conditional writes.
type Ledger struct {
	stock StockAdjuster
	tx    txRunner
}

func NewLedger(stock StockAdjuster, tx txRunner) (*Ledger, error) {
	if stock == nil {
		return nil, fmt.Errorf("stock adjuster required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Ledger{stock: stock, tx: tx}, nil
}

// Reserve decrements stock for every line inside tx. The first line that
// cannot be covered returns InsufficientStock and the caller must roll back.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, lines []Line) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	merged, err := Merge(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		ok, err := l.stock.AdjustStock(ctx, tx, line.ProductID, -line.Quantity, line.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve stock")
		}
		if !ok {
			return pkgerrors.InsufficientStock(line.ProductID.String(), line.Quantity)
		}
	}
	return nil
}

// ReserveAll runs Reserve in its own transaction.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) error {
	return l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return l.Reserve(ctx, tx, lines)
	})
}

// Release credits stock back unconditionally. Callers guard against double
// release with the order's stock_released flag.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, lines []Line) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	merged, err := Merge(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		if _, err := l.stock.AdjustStock(ctx, tx, line.ProductID, line.Quantity, 0); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release stock")
		}
	}
	return nil
}

// Merge folds duplicate products together so the availability guard sees the
// full requested quantity. Order of first appearance is kept.
func Merge(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}
	index := make(map[uuid.UUID]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out, nil
}
