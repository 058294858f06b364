// Package register implements the transaction recorder: it turns a cart into
// a durable local transaction, applying the stock deductions that the sync
// engine will later reconcile with the back office.
package register

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lanepos/lanepos/internal/ledger"
	"github.com/lanepos/lanepos/internal/remote"
	"github.com/lanepos/lanepos/internal/types"
)

// Store is the slice of the durable store the recorder needs.
type Store interface {
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	InsertTransaction(ctx context.Context, t *types.Transaction) error
}

// RemoteCreator submits a single transaction online.
type RemoteCreator interface {
	CreateTransaction(ctx context.Context, t *types.Transaction) (*remote.CreatedTransaction, error)
}

// Recorder builds and persists transactions from the register's cart.
type Recorder struct {
	store   Store
	ledger  *ledger.Ledger
	remote  RemoteCreator
	online  func() bool
	actorID string
}

// New creates a Recorder. online reports current connectivity; remote may be
// nil for a terminal that only ever records offline.
func New(store Store, ldg *ledger.Ledger, rc RemoteCreator, online func() bool, actorID string) *Recorder {
	if online == nil {
		online = func() bool { return false }
	}
	if actorID == "" {
		actorID = "lane"
	}
	return &Recorder{store: store, ledger: ldg, remote: rc, online: online, actorID: actorID}
}

// NewClientTransactionID generates {actorID}_{epochMillis}_{randomSuffix}.
// The suffix makes collisions across devices implausible without central
// coordination; the server deduplicates on the full id.
func (r *Recorder) NewClientTransactionID() string {
	suffix := strings.ToLower(ulid.Make().String())
	return fmt.Sprintf("%s_%d_%s", r.actorID, time.Now().UnixMilli(), suffix[len(suffix)-8:])
}

// Record completes a sale. When online it first tries the direct create
// endpoint; any remote failure falls through to the offline path so the
// cashier flow is never interrupted by the network. The returned pending
// flag is true when the transaction was stored locally awaiting sync.
func (r *Recorder) Record(ctx context.Context, cart []types.CartLine, payment types.PaymentInfo) (*types.Transaction, bool, error) {
	t, err := r.buildTransaction(ctx, cart, payment)
	if err != nil {
		return nil, false, err
	}

	if r.online() && r.remote != nil {
		created, err := r.remote.CreateTransaction(ctx, t)
		if err == nil {
			now := time.Now().UTC()
			t.ServerID = created.ID
			t.TransactionCode = created.TransactionCode
			t.Synced = true
			t.SyncedAt = &now
			return t, false, nil
		}
		slog.Warn("online transaction failed, falling back to offline",
			"component", "register",
			"client_transaction_id", t.ClientTransactionID,
			"error", err,
		)
	}

	if err := r.persistOffline(ctx, t); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// RecordOffline completes a sale against the local store only: validate the
// whole cart against live stock, deduct, persist with synced=false. If any
// line fails validation nothing is mutated and nothing is persisted.
func (r *Recorder) RecordOffline(ctx context.Context, cart []types.CartLine, payment types.PaymentInfo) (*types.Transaction, error) {
	t, err := r.buildTransaction(ctx, cart, payment)
	if err != nil {
		return nil, err
	}
	if err := r.persistOffline(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// buildTransaction validates every cart line against current local stock
// (read fresh, not from cart state) and assembles the transaction record.
func (r *Recorder) buildTransaction(ctx context.Context, cart []types.CartLine, payment types.PaymentInfo) (*types.Transaction, error) {
	if len(cart) == 0 {
		return nil, errors.New("cart is empty")
	}

	items := make([]types.TransactionItem, 0, len(cart))
	deltas := make([]types.StockDelta, 0, len(cart))
	var total float64

	for _, line := range cart {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("quantity must be positive for product %s", line.ProductID)
		}

		product, err := r.store.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("look up product %s: %w", line.ProductID, err)
		}

		if product.Stock < line.Quantity {
			return nil, &ledger.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   line.Quantity,
			}
		}

		items = append(items, types.TransactionItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   product.Price,
		})
		deltas = append(deltas, types.StockDelta{ProductID: product.ID, Quantity: line.Quantity})
		total += product.Price * float64(line.Quantity)
	}

	return &types.Transaction{
		ClientTransactionID: r.NewClientTransactionID(),
		Items:               items,
		StockDeltas:         deltas,
		TotalAmount:         total,
		DiscountAmount:      payment.DiscountAmount,
		TaxAmount:           payment.TaxAmount,
		FinalAmount:         total - payment.DiscountAmount + payment.TaxAmount,
		PaymentMethod:       payment.PaymentMethod,
		PaidAmount:          payment.PaidAmount,
		CustomerName:        payment.CustomerName,
		Notes:               payment.Notes,
		CreatedAt:           time.Now().UTC(),
	}, nil
}

// persistOffline deducts stock then persists the record. Any failure after a
// deduction landed restores it, so a half-recorded sale never survives: a
// mid-batch BulkAdjust failure rolls back the applied prefix, and a persist
// failure rolls back the full batch.
func (r *Recorder) persistOffline(ctx context.Context, t *types.Transaction) error {
	applied, err := r.ledger.BulkAdjust(ctx, t.StockDeltas, ledger.Subtract)
	if err != nil {
		// BulkAdjust stops at the first failure and reports what it
		// already applied, in input order.
		if len(applied) > 0 {
			if rbErr := r.ledger.Rollback(ctx, t.StockDeltas[:len(applied)]); rbErr != nil {
				slog.Error("stock restore after failed bulk adjust",
					"component", "register",
					"client_transaction_id", t.ClientTransactionID,
					"applied", len(applied),
					"error", rbErr,
				)
			}
		}
		return err
	}

	if err := r.store.InsertTransaction(ctx, t); err != nil {
		if rbErr := r.ledger.Rollback(ctx, t.StockDeltas); rbErr != nil {
			slog.Error("stock restore after failed persist",
				"component", "register",
				"client_transaction_id", t.ClientTransactionID,
				"error", rbErr,
			)
		}
		return fmt.Errorf("persist transaction: %w", err)
	}

	slog.Info("transaction recorded offline",
		"component", "register",
		"action", "record_offline",
		"client_transaction_id", t.ClientTransactionID,
		"items", len(t.Items),
		"final_amount", t.FinalAmount,
	)
	return nil
}
