package register

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lanepos/lanepos/internal/types"
)

// CatalogStore is the slice of the durable store catalog edits need.
type CatalogStore interface {
	UpsertProduct(ctx context.Context, p *types.Product) error
	DeleteProduct(ctx context.Context, id string) error
	UpsertCategory(ctx context.Context, c *types.Category) error
	DeleteCategory(ctx context.Context, id string) error
	EnqueueChange(ctx context.Context, operation, entity string, payload []byte) (*types.QueueEntry, error)
}

// CatalogEditor applies product and category edits to the local mirror and
// queues them for replay against the back office. Edits made while offline
// are visible on the terminal immediately; the queue carries them upstream.
type CatalogEditor struct {
	store CatalogStore
}

// NewCatalogEditor creates a CatalogEditor over the given store.
func NewCatalogEditor(store CatalogStore) *CatalogEditor {
	return &CatalogEditor{store: store}
}

// SaveProduct applies a product create or update locally and enqueues it.
func (e *CatalogEditor) SaveProduct(ctx context.Context, p *types.Product, operation string) error {
	if operation != types.OpCreate && operation != types.OpUpdate {
		return fmt.Errorf("unknown operation %q", operation)
	}
	if err := e.store.UpsertProduct(ctx, p); err != nil {
		return err
	}
	return e.enqueue(ctx, operation, types.EntityProduct, p)
}

// RemoveProduct deletes a product locally and enqueues the deletion.
func (e *CatalogEditor) RemoveProduct(ctx context.Context, id string) error {
	if err := e.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	return e.enqueue(ctx, types.OpDelete, types.EntityProduct, &types.Product{ID: id})
}

// SaveCategory applies a category create or update locally and enqueues it.
func (e *CatalogEditor) SaveCategory(ctx context.Context, c *types.Category, operation string) error {
	if operation != types.OpCreate && operation != types.OpUpdate {
		return fmt.Errorf("unknown operation %q", operation)
	}
	if err := e.store.UpsertCategory(ctx, c); err != nil {
		return err
	}
	return e.enqueue(ctx, operation, types.EntityCategory, c)
}

// RemoveCategory deletes a category locally and enqueues the deletion.
func (e *CatalogEditor) RemoveCategory(ctx context.Context, id string) error {
	if err := e.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	return e.enqueue(ctx, types.OpDelete, types.EntityCategory, &types.Category{ID: id})
}

func (e *CatalogEditor) enqueue(ctx context.Context, operation, entity string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", entity, err)
	}
	entry, err := e.store.EnqueueChange(ctx, operation, entity, data)
	if err != nil {
		return err
	}
	slog.Info("catalog edit queued",
		"component", "register",
		"action", "enqueue_change",
		"queue_id", entry.ID,
		"operation", operation,
		"entity", entity,
	)
	return nil
}
