// Package ledger implements the stock ledger: serialized read-modify-write
// mutations of local product stock with a hard non-negativity invariant.
// Rollback uses the same primitive as forward application, so every
// subtraction is exactly reversible.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/lanepos/lanepos/internal/types"
)

// Direction selects whether an adjustment subtracts from or adds to stock.
type Direction string

const (
	Subtract Direction = "subtract"
	Add      Direction = "add"
)

// InsufficientStockError reports a subtraction that would drive stock below
// zero. The mutation is rejected before anything is written.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

// Store is the slice of the durable store the ledger needs.
type Store interface {
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	SetProductStock(ctx context.Context, id string, stock int) error
}

// Ledger serializes stock mutations against the local store. One ledger
// instance guards one store; two adjustments on the same product can never
// both observe the same pre-mutation stock value.
type Ledger struct {
	store Store
	mu    sync.Mutex
}

// New creates a Ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Adjust applies a single stock mutation and returns the new stock level.
// A subtraction that would go negative returns InsufficientStockError and
// leaves stock unchanged.
func (l *Ledger) Adjust(ctx context.Context, productID string, quantity int, direction Direction) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.adjustLocked(ctx, productID, quantity, direction)
}

// BulkAdjustResult reports the outcome of one item in a bulk adjustment.
type BulkAdjustResult struct {
	ProductID string
	NewStock  int
}

// BulkAdjust applies Adjust per item in input order under one lock
// acquisition. It stops at the first failure; items already applied stay
// applied. Callers treat any failure as failure of the whole batch — the
// recorder validates the full cart first, so a mid-batch failure can only
// come from the store itself.
func (l *Ledger) BulkAdjust(ctx context.Context, items []types.StockDelta, direction Direction) ([]BulkAdjustResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	results := make([]BulkAdjustResult, 0, len(items))
	for _, item := range items {
		newStock, err := l.adjustLocked(ctx, item.ProductID, item.Quantity, direction)
		if err != nil {
			return results, err
		}
		results = append(results, BulkAdjustResult{ProductID: item.ProductID, NewStock: newStock})
	}
	return results, nil
}

// Rollback restores stock for every recorded delta by re-adding the exact
// quantities that were subtracted. Additions cannot fail the non-negativity
// check, so a rollback either completes or surfaces a store error.
func (l *Ledger) Rollback(ctx context.Context, deltas []types.StockDelta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, delta := range deltas {
		if _, err := l.adjustLocked(ctx, delta.ProductID, delta.Quantity, Add); err != nil {
			return fmt.Errorf("rollback product %s: %w", delta.ProductID, err)
		}
	}
	return nil
}

// adjustLocked is the single mutation primitive. Callers must hold l.mu.
func (l *Ledger) adjustLocked(ctx context.Context, productID string, quantity int, direction Direction) (int, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	product, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("read product %s: %w", productID, err)
	}

	newStock := product.Stock
	switch direction {
	case Subtract:
		newStock -= quantity
	case Add:
		newStock += quantity
	default:
		return 0, fmt.Errorf("unknown direction %q", direction)
	}

	if newStock < 0 {
		return 0, &InsufficientStockError{
			ProductID:   productID,
			ProductName: product.Name,
			Available:   product.Stock,
			Requested:   quantity,
		}
	}

	if err := l.store.SetProductStock(ctx, productID, newStock); err != nil {
		return 0, fmt.Errorf("write product %s: %w", productID, err)
	}
	return newStock, nil
}
