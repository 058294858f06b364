package register

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/lanepos/lanepos/internal/ledger"
	"github.com/lanepos/lanepos/internal/remote"
	"github.com/lanepos/lanepos/internal/types"
)

// memStore backs both the recorder and the ledger in tests. drainAtCall
// empties drainID's stock right before the Nth GetProduct call, simulating
// a concurrent sale landing between the cart validation read and the
// ledger's locked read.
type memStore struct {
	mu           sync.Mutex
	products     map[string]*types.Product
	transactions map[string]*types.Transaction
	failInsert   bool

	getCalls    int
	drainAtCall int
	drainID     string
}

var _ Store = (*memStore)(nil)
var _ ledger.Store = (*memStore)(nil)

func newMemStore(products ...*types.Product) *memStore {
	m := &memStore{
		products:     make(map[string]*types.Product),
		transactions: make(map[string]*types.Transaction),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memStore) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.drainAtCall > 0 && m.getCalls == m.drainAtCall {
		if drained, ok := m.products[m.drainID]; ok {
			drained.Stock = 0
		}
	}
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) SetProductStock(ctx context.Context, id string, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return fmt.Errorf("product %s not found", id)
	}
	p.Stock = stock
	return nil
}

func (m *memStore) InsertTransaction(ctx context.Context, t *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert {
		return errors.New("disk full")
	}
	m.transactions[t.ClientTransactionID] = t
	return nil
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// mockCreator records CreateTransaction calls.
type mockCreator struct {
	calls int
	fail  bool
}

func (m *mockCreator) CreateTransaction(ctx context.Context, t *types.Transaction) (*remote.CreatedTransaction, error) {
	m.calls++
	if m.fail {
		return nil, errors.New("connection refused")
	}
	return &remote.CreatedTransaction{
		ID:                  "srv-1",
		TransactionCode:     "TRX-001",
		ClientTransactionID: t.ClientTransactionID,
	}, nil
}

func testProducts() []*types.Product {
	return []*types.Product{
		{ID: "p1", Name: "Cola", Price: 2.0, Stock: 10, IsActive: true},
		{ID: "p2", Name: "Chips", Price: 3.5, Stock: 4, IsActive: true},
	}
}

func TestRecordOffline_HappyPath(t *testing.T) {
	store := newMemStore(testProducts()...)
	r := New(store, ledger.New(store), nil, nil, "lane9")

	txn, err := r.RecordOffline(context.Background(), []types.CartLine{
		{ProductID: "p1", Quantity: 3},
		{ProductID: "p2", Quantity: 1},
	}, types.PaymentInfo{PaymentMethod: "cash", PaidAmount: 10})
	if err != nil {
		t.Fatal(err)
	}

	if txn.Synced {
		t.Error("expected offline transaction unsynced")
	}
	if store.stock("p1") != 7 || store.stock("p2") != 3 {
		t.Errorf("stock not deducted: p1=%d p2=%d", store.stock("p1"), store.stock("p2"))
	}
	if store.transactionCount() != 1 {
		t.Errorf("expected 1 persisted transaction, got %d", store.transactionCount())
	}

	// Totals: 3*2.00 + 1*3.50.
	if txn.TotalAmount != 9.5 || txn.FinalAmount != 9.5 {
		t.Errorf("unexpected amounts: total=%v final=%v", txn.TotalAmount, txn.FinalAmount)
	}

	// Deltas mirror the deducted quantities exactly.
	want := []types.StockDelta{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}}
	if len(txn.StockDeltas) != len(want) {
		t.Fatalf("expected %d deltas, got %d", len(want), len(txn.StockDeltas))
	}
	for i, d := range want {
		if txn.StockDeltas[i] != d {
			t.Errorf("delta %d: expected %+v, got %+v", i, d, txn.StockDeltas[i])
		}
	}

	// Items carry the catalog name and price at time of sale.
	if txn.Items[0].ProductName != "Cola" || txn.Items[0].UnitPrice != 2.0 {
		t.Errorf("unexpected item snapshot: %+v", txn.Items[0])
	}
}

func TestRecordOffline_ClientTransactionIDFormat(t *testing.T) {
	store := newMemStore(testProducts()...)
	r := New(store, ledger.New(store), nil, nil, "lane9")

	txn, err := r.RecordOffline(context.Background(),
		[]types.CartLine{{ProductID: "p1", Quantity: 1}},
		types.PaymentInfo{PaymentMethod: "cash"})
	if err != nil {
		t.Fatal(err)
	}

	pattern := regexp.MustCompile(`^lane9_\d{13}_[0-9a-z]{8}$`)
	if !pattern.MatchString(txn.ClientTransactionID) {
		t.Errorf("unexpected client transaction id format: %s", txn.ClientTransactionID)
	}
}

func TestRecordOffline_DiscountAndTax(t *testing.T) {
	store := newMemStore(testProducts()...)
	r := New(store, ledger.New(store), nil, nil, "lane1")

	txn, err := r.RecordOffline(context.Background(),
		[]types.CartLine{{ProductID: "p1", Quantity: 2}},
		types.PaymentInfo{PaymentMethod: "card", DiscountAmount: 1, TaxAmount: 0.5})
	if err != nil {
		t.Fatal(err)
	}

	if txn.TotalAmount != 4 {
		t.Errorf("expected total 4, got %v", txn.TotalAmount)
	}
	if txn.FinalAmount != 3.5 {
		t.Errorf("expected final 3.5 (total - discount + tax), got %v", txn.FinalAmount)
	}
}

func TestRecordOffline_InsufficientStock(t *testing.T) {
	store := newMemStore(testProducts()...)
	r := New(store, ledger.New(store), nil, nil, "lane1")

	// Second line exceeds stock; the whole cart is refused up front.
	_, err := r.RecordOffline(context.Background(), []types.CartLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 5},
	}, types.PaymentInfo{PaymentMethod: "cash"})

	var stockErr *ledger.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != "p2" {
		t.Errorf("expected p2 in error, got %s", stockErr.ProductID)
	}

	// Nothing was mutated, nothing was persisted.
	if store.stock("p1") != 10 || store.stock("p2") != 4 {
		t.Errorf("stock mutated on refused cart: p1=%d p2=%d", store.stock("p1"), store.stock("p2"))
	}
	if store.transactionCount() != 0 {
		t.Errorf("expected no persisted transactions, got %d", store.transactionCount())
	}
}

func TestRecordOffline_EmptyCart(t *testing.T) {
	store := newMemStore(testProducts()...)
	r := New(store, ledger.New(store), nil, nil, "lane1")

	if _, err := r.RecordOffline(context.Background(), nil, types.PaymentInfo{PaymentMethod: "cash"}); err == nil {
		t.Fatal("expected error for empty cart")
	}
}

func TestRecordOffline_PersistFailureRestoresStock(t *testing.T) {
	store := newMemStore(testProducts()...)
	store.failInsert = true
	r := New(store, ledger.New(store), nil, nil, "lane1")

	_, err := r.RecordOffline(context.Background(),
		[]types.CartLine{{ProductID: "p1", Quantity: 3}},
		types.PaymentInfo{PaymentMethod: "cash"})
	if err == nil {
		t.Fatal("expected persist error")
	}

	if store.stock("p1") != 10 {
		t.Errorf("expected stock restored to 10, got %d", store.stock("p1"))
	}
}

func TestRecordOffline_MidBatchFailureRestoresAppliedDeductions(t *testing.T) {
	store := newMemStore(testProducts()...)
	// Validation reads the cart (calls 1-2), then the ledger re-reads each
	// line under its lock (calls 3-4). Draining p2 at call 3 means the
	// ledger deducts p1 and then refuses p2, exactly the window where a
	// concurrent sale empties a line after the cart was validated.
	store.drainAtCall = 3
	store.drainID = "p2"
	r := New(store, ledger.New(store), nil, nil, "lane1")

	_, err := r.RecordOffline(context.Background(), []types.CartLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 2},
	}, types.PaymentInfo{PaymentMethod: "cash"})

	var stockErr *ledger.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != "p2" {
		t.Errorf("expected p2 in error, got %s", stockErr.ProductID)
	}

	// The p1 deduction that landed before the failure is rolled back.
	if store.stock("p1") != 10 {
		t.Errorf("expected p1 restored to 10, got %d", store.stock("p1"))
	}
	if store.transactionCount() != 0 {
		t.Errorf("expected no persisted transactions, got %d", store.transactionCount())
	}
}

func TestRecord_OnlineSuccess(t *testing.T) {
	store := newMemStore(testProducts()...)
	creator := &mockCreator{}
	r := New(store, ledger.New(store), creator, func() bool { return true }, "lane1")

	txn, pending, err := r.Record(context.Background(),
		[]types.CartLine{{ProductID: "p1", Quantity: 2}},
		types.PaymentInfo{PaymentMethod: "cash"})
	if err != nil {
		t.Fatal(err)
	}

	if pending {
		t.Error("expected online transaction not pending")
	}
	if creator.calls != 1 {
		t.Errorf("expected 1 remote call, got %d", creator.calls)
	}
	if !txn.Synced || txn.TransactionCode != "TRX-001" || txn.ServerID != "srv-1" {
		t.Errorf("server fields not applied: %+v", txn)
	}

	// Server owns the record and the stock movement; nothing local changes.
	if store.transactionCount() != 0 {
		t.Errorf("expected no local record for online sale, got %d", store.transactionCount())
	}
	if store.stock("p1") != 10 {
		t.Errorf("expected local stock untouched, got %d", store.stock("p1"))
	}
}

func TestRecord_OnlineFailureFallsBackOffline(t *testing.T) {
	store := newMemStore(testProducts()...)
	creator := &mockCreator{fail: true}
	r := New(store, ledger.New(store), creator, func() bool { return true }, "lane1")

	txn, pending, err := r.Record(context.Background(),
		[]types.CartLine{{ProductID: "p1", Quantity: 2}},
		types.PaymentInfo{PaymentMethod: "cash"})
	if err != nil {
		t.Fatal(err)
	}

	if !pending {
		t.Error("expected fallback transaction pending")
	}
	if txn.Synced {
		t.Error("expected fallback transaction unsynced")
	}
	if store.transactionCount() != 1 {
		t.Errorf("expected 1 local record, got %d", store.transactionCount())
	}
	if store.stock("p1") != 8 {
		t.Errorf("expected local stock deducted to 8, got %d", store.stock("p1"))
	}
}

func TestRecord_OfflineSkipsRemote(t *testing.T) {
	store := newMemStore(testProducts()...)
	creator := &mockCreator{}
	r := New(store, ledger.New(store), creator, func() bool { return false }, "lane1")

	_, pending, err := r.Record(context.Background(),
		[]types.CartLine{{ProductID: "p1", Quantity: 1}},
		types.PaymentInfo{PaymentMethod: "cash"})
	if err != nil {
		t.Fatal(err)
	}

	if !pending {
		t.Error("expected offline transaction pending")
	}
	if creator.calls != 0 {
		t.Errorf("expected no remote calls while offline, got %d", creator.calls)
	}
}
