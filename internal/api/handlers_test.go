package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lanepos/lanepos/internal/ledger"
	"github.com/lanepos/lanepos/internal/store"
	"github.com/lanepos/lanepos/internal/syncengine"
	"github.com/lanepos/lanepos/internal/types"
)

// mockStore serves canned data to the handlers.
type mockStore struct {
	pending     int
	queued      int
	pruned      int64
	transaction *types.Transaction
}

var _ Store = (*mockStore)(nil)

func (m *mockStore) ListProducts(ctx context.Context, filter store.ProductFilter) (*store.ProductPage, error) {
	return &store.ProductPage{
		Products: []types.Product{{ID: "p1", Name: "Cola", Price: 2, Stock: 5}},
		Total:    1,
		Page:     1,
	}, nil
}

func (m *mockStore) ListCategories(ctx context.Context) ([]types.Category, error) {
	return []types.Category{{ID: "c1", Name: "Drinks"}}, nil
}

func (m *mockStore) ListTransactions(ctx context.Context, filter store.TransactionFilter) (*store.TransactionPage, error) {
	return &store.TransactionPage{Page: 1}, nil
}

func (m *mockStore) GetTransactionByClientID(ctx context.Context, clientTransactionID string) (*types.Transaction, error) {
	if m.transaction == nil || m.transaction.ClientTransactionID != clientTransactionID {
		return nil, store.ErrNotFound
	}
	return m.transaction, nil
}

func (m *mockStore) PendingCount(ctx context.Context) (int, error) { return m.pending, nil }
func (m *mockStore) QueueSize(ctx context.Context) (int, error)    { return m.queued, nil }
func (m *mockStore) DeleteSyncedTransactions(ctx context.Context) (int64, error) {
	return m.pruned, nil
}

// mockRecorder scripts Record outcomes.
type mockRecorder struct {
	err     error
	pending bool
}

func (m *mockRecorder) Record(ctx context.Context, cart []types.CartLine, payment types.PaymentInfo) (*types.Transaction, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return &types.Transaction{
		ClientTransactionID: "lane1_1_abc",
		PaymentMethod:       payment.PaymentMethod,
	}, m.pending, nil
}

// mockCatalog accepts everything.
type mockCatalog struct {
	removeErr error
}

func (m *mockCatalog) SaveProduct(ctx context.Context, p *types.Product, operation string) error {
	return nil
}
func (m *mockCatalog) RemoveProduct(ctx context.Context, id string) error { return m.removeErr }
func (m *mockCatalog) SaveCategory(ctx context.Context, c *types.Category, operation string) error {
	return nil
}
func (m *mockCatalog) RemoveCategory(ctx context.Context, id string) error { return m.removeErr }

// mockSync scripts the sync control surface.
type mockSync struct {
	state    syncengine.State
	accepted bool
}

func (m *mockSync) Status(ctx context.Context) syncengine.Status {
	return syncengine.Status{State: m.state}
}
func (m *mockSync) TriggerSync() bool { return m.accepted }

// mockConn scripts connectivity.
type mockConn struct {
	online bool
}

func (m *mockConn) Online() bool                  { return m.online }
func (m *mockConn) Probe(ctx context.Context) bool { return m.online }

func newTestRouter(s Store, rec Recorder, cat Catalog, sc SyncControl, conn Connectivity) http.Handler {
	return NewRouter(NewHandler(s, rec, cat, sc, conn, "test"))
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(
		&mockStore{pending: 3, queued: 1},
		&mockRecorder{},
		&mockCatalog{},
		&mockSync{state: syncengine.StateIdle},
		&mockConn{online: true},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.State != syncengine.StateIdle || !body.Online || body.PendingCount != 3 || body.QueueSize != 1 {
		t.Errorf("unexpected status body: %+v", body)
	}
}

func TestTriggerSync_Conflict(t *testing.T) {
	router := newTestRouter(
		&mockStore{},
		&mockRecorder{},
		&mockCatalog{},
		&mockSync{state: syncengine.StateSyncing, accepted: false},
		&mockConn{online: true},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != http.StatusConflict || p.Detail != "sync already in progress" {
		t.Errorf("unexpected problem body: %+v", p)
	}
}

func TestTriggerSync_Offline(t *testing.T) {
	router := newTestRouter(
		&mockStore{},
		&mockRecorder{},
		&mockCatalog{},
		&mockSync{accepted: true},
		&mockConn{online: false},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestTriggerSync_Accepted(t *testing.T) {
	router := newTestRouter(
		&mockStore{},
		&mockRecorder{},
		&mockCatalog{},
		&mockSync{accepted: true},
		&mockConn{online: true},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}

func TestRecordTransaction(t *testing.T) {
	router := newTestRouter(
		&mockStore{},
		&mockRecorder{pending: true},
		&mockCatalog{},
		&mockSync{},
		&mockConn{},
	)

	body := `{"items":[{"product_id":"p1","quantity":2}],"payment_method":"cash","paid_amount":10}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewBufferString(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp RecordTransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Pending || resp.Transaction.ClientTransactionID != "lane1_1_abc" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRecordTransaction_Validation(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockRecorder{}, &mockCatalog{}, &mockSync{}, &mockConn{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty items", `{"items":[],"payment_method":"cash"}`},
		{"missing payment method", `{"items":[{"product_id":"p1","quantity":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewBufferString(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestRecordTransaction_InsufficientStock(t *testing.T) {
	router := newTestRouter(
		&mockStore{},
		&mockRecorder{err: &ledger.InsufficientStockError{ProductID: "p1", Available: 1, Requested: 5}},
		&mockCatalog{},
		&mockSync{},
		&mockConn{},
	)

	body := `{"items":[{"product_id":"p1","quantity":5}],"payment_method":"cash"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewBufferString(body)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestRecordTransaction_UnknownProduct(t *testing.T) {
	router := newTestRouter(
		&mockStore{},
		&mockRecorder{err: fmt.Errorf("look up product p9: %w", store.ErrNotFound)},
		&mockCatalog{},
		&mockSync{},
		&mockConn{},
	)

	body := `{"items":[{"product_id":"p9","quantity":1}],"payment_method":"cash"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewBufferString(body)))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListProducts(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockRecorder{}, &mockCatalog{}, &mockSync{}, &mockConn{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products?search=cola", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Products []types.Product `json:"products"`
		Total    int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || len(body.Products) != 1 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestDeleteProduct_NotFound(t *testing.T) {
	router := newTestRouter(
		&mockStore{},
		&mockRecorder{},
		&mockCatalog{removeErr: store.ErrNotFound},
		&mockSync{},
		&mockConn{},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/products/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetTransaction(t *testing.T) {
	router := newTestRouter(
		&mockStore{transaction: &types.Transaction{ClientTransactionID: "lane1_1_abc", PaymentMethod: "cash"}},
		&mockRecorder{},
		&mockCatalog{},
		&mockSync{},
		&mockConn{},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/transactions/lane1_1_abc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var txn types.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txn); err != nil {
		t.Fatal(err)
	}
	if txn.ClientTransactionID != "lane1_1_abc" || txn.PaymentMethod != "cash" {
		t.Errorf("unexpected transaction body: %+v", txn)
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockRecorder{}, &mockCatalog{}, &mockSync{}, &mockConn{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/transactions/lane1_9_zzz", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
}

func TestPruneSynced(t *testing.T) {
	router := newTestRouter(&mockStore{pruned: 4}, &mockRecorder{}, &mockCatalog{}, &mockSync{}, &mockConn{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/transactions/synced", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["deleted"] != 4 {
		t.Errorf("expected 4 deleted, got %d", body["deleted"])
	}
}

func TestCreateProduct_AppliesAndQueues(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockRecorder{}, &mockCatalog{}, &mockSync{}, &mockConn{})

	body := `{"id":"p1","name":"Cola","price":2,"stock":5}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/products", bytes.NewBufferString(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestCreateProduct_RequiresIDAndName(t *testing.T) {
	router := newTestRouter(&mockStore{}, &mockRecorder{}, &mockCatalog{}, &mockSync{}, &mockConn{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/products", bytes.NewBufferString(`{"id":"p1"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
