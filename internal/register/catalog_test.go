package register

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/lanepos/lanepos/internal/ledger"
	"github.com/lanepos/lanepos/internal/store"
	"github.com/lanepos/lanepos/internal/types"
)

// memCatalogStore is an in-memory CatalogStore for tests.
type memCatalogStore struct {
	products   map[string]*types.Product
	categories map[string]*types.Category
	queue      []types.QueueEntry
}

var _ CatalogStore = (*memCatalogStore)(nil)

func newMemCatalogStore() *memCatalogStore {
	return &memCatalogStore{
		products:   make(map[string]*types.Product),
		categories: make(map[string]*types.Category),
	}
}

func (m *memCatalogStore) UpsertProduct(ctx context.Context, p *types.Product) error {
	m.products[p.ID] = p
	return nil
}

func (m *memCatalogStore) DeleteProduct(ctx context.Context, id string) error {
	delete(m.products, id)
	return nil
}

func (m *memCatalogStore) UpsertCategory(ctx context.Context, c *types.Category) error {
	m.categories[c.ID] = c
	return nil
}

func (m *memCatalogStore) DeleteCategory(ctx context.Context, id string) error {
	delete(m.categories, id)
	return nil
}

func (m *memCatalogStore) EnqueueChange(ctx context.Context, operation, entity string, payload []byte) (*types.QueueEntry, error) {
	entry := types.QueueEntry{ID: "q1", Operation: operation, Entity: entity, Payload: payload}
	m.queue = append(m.queue, entry)
	return &entry, nil
}

func TestSaveProduct_AppliesLocallyAndEnqueues(t *testing.T) {
	store := newMemCatalogStore()
	e := NewCatalogEditor(store)

	p := &types.Product{ID: "p1", Name: "Cola", Price: 2, Stock: 5}
	if err := e.SaveProduct(context.Background(), p, types.OpCreate); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.products["p1"]; !ok {
		t.Error("expected product applied locally")
	}
	if len(store.queue) != 1 {
		t.Fatalf("expected 1 queue entry, got %d", len(store.queue))
	}
	entry := store.queue[0]
	if entry.Operation != types.OpCreate || entry.Entity != types.EntityProduct {
		t.Errorf("unexpected queue entry: %+v", entry)
	}

	var decoded types.Product
	if err := json.Unmarshal(entry.Payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ID != "p1" || decoded.Name != "Cola" {
		t.Errorf("payload not round-tripped: %+v", decoded)
	}
}

func TestSaveProduct_RejectsUnknownOperation(t *testing.T) {
	e := NewCatalogEditor(newMemCatalogStore())

	err := e.SaveProduct(context.Background(), &types.Product{ID: "p1"}, types.OpDelete)
	if err == nil {
		t.Fatal("expected error for delete via SaveProduct")
	}
}

func TestRemoveProduct_EnqueuesDeletion(t *testing.T) {
	store := newMemCatalogStore()
	store.products["p1"] = &types.Product{ID: "p1"}
	e := NewCatalogEditor(store)

	if err := e.RemoveProduct(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.products["p1"]; ok {
		t.Error("expected product removed locally")
	}
	if len(store.queue) != 1 || store.queue[0].Operation != types.OpDelete {
		t.Errorf("expected delete queued, got %+v", store.queue)
	}
}

func TestSaveCategory_AppliesLocallyAndEnqueues(t *testing.T) {
	store := newMemCatalogStore()
	e := NewCatalogEditor(store)

	if err := e.SaveCategory(context.Background(), &types.Category{ID: "c1", Name: "Drinks"}, types.OpUpdate); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.categories["c1"]; !ok {
		t.Error("expected category applied locally")
	}
	if len(store.queue) != 1 || store.queue[0].Entity != types.EntityCategory {
		t.Errorf("unexpected queue: %+v", store.queue)
	}
}

// A price edit drafted before a sale must not resurrect the pre-sale stock
// when it lands after the ledger deduction. Runs against the real store so
// the upsert's column behavior is what's under test.
func TestSaveProduct_DoesNotClobberLedgerDeduction(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "lane.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	editor := NewCatalogEditor(db)
	ldg := ledger.New(db)

	original := &types.Product{ID: "p1", SKU: "COLA-1", Name: "Cola", Price: 2.0, Stock: 10, IsActive: true}
	if err := editor.SaveProduct(ctx, original, types.OpCreate); err != nil {
		t.Fatal(err)
	}

	// The cashier drafts a price edit against stock 10, then a sale lands.
	stale := *original
	stale.Price = 2.5

	if _, err := ldg.Adjust(ctx, "p1", 3, ledger.Subtract); err != nil {
		t.Fatal(err)
	}
	if err := editor.SaveProduct(ctx, &stale, types.OpUpdate); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Price != 2.5 {
		t.Errorf("expected price edit applied, got %v", got.Price)
	}
	if got.Stock != 7 {
		t.Errorf("expected ledger deduction preserved at 7, got %d", got.Stock)
	}
}

func TestRemoveCategory_EnqueuesDeletion(t *testing.T) {
	store := newMemCatalogStore()
	store.categories["c1"] = &types.Category{ID: "c1"}
	e := NewCatalogEditor(store)

	if err := e.RemoveCategory(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if len(store.queue) != 1 || store.queue[0].Operation != types.OpDelete || store.queue[0].Entity != types.EntityCategory {
		t.Errorf("expected category delete queued, got %+v", store.queue)
	}
}
