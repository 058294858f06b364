package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lanepos/lanepos/internal/types"
)

// replayQueue pushes queued catalog edits upstream one entry at a time.
// Each entry settles independently: success removes it, failure records the
// error and leaves it queued. A mid-queue failure never discards the
// entries behind it.
func (e *Engine) replayQueue(ctx context.Context, result *CycleResult) {
	entries, err := e.store.ListQueue(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list queue: %v", err))
		return
	}

	for _, entry := range entries {
		if err := e.replayEntry(ctx, &entry); err != nil {
			result.QueueFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("replay %s %s: %v", entry.Operation, entry.Entity, err))
			if recErr := e.store.RecordQueueFailure(ctx, entry.ID, err); recErr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("record queue failure %s: %v", entry.ID, recErr))
			}
			slog.Warn("queue entry replay failed",
				"component", "syncengine",
				"action", "replay_queue",
				"queue_id", entry.ID,
				"operation", entry.Operation,
				"entity", entry.Entity,
				"attempts", entry.Attempts+1,
				"error", err,
			)
			continue
		}
		if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete queue entry %s: %v", entry.ID, err))
			continue
		}
		result.QueueReplayed++
	}
}

// replayEntry dispatches one queued edit to the matching remote endpoint.
func (e *Engine) replayEntry(ctx context.Context, entry *types.QueueEntry) error {
	switch entry.Entity {
	case types.EntityProduct:
		var p types.Product
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("decode product payload: %w", err)
		}
		switch entry.Operation {
		case types.OpCreate, types.OpUpdate:
			// The payload's stock is whatever the edit was drafted
			// against; ledger deductions since then live only in the
			// store. Send the current value, not the stale one.
			if current, err := e.store.GetProduct(ctx, p.ID); err == nil {
				p.Stock = current.Stock
			}
			if entry.Operation == types.OpCreate {
				return e.remote.CreateProduct(ctx, &p)
			}
			return e.remote.UpdateProduct(ctx, &p)
		case types.OpDelete:
			return e.remote.DeleteProduct(ctx, p.ID)
		}
	case types.EntityCategory:
		var c types.Category
		if err := json.Unmarshal(entry.Payload, &c); err != nil {
			return fmt.Errorf("decode category payload: %w", err)
		}
		switch entry.Operation {
		case types.OpCreate:
			return e.remote.CreateCategory(ctx, &c)
		case types.OpUpdate:
			return e.remote.UpdateCategory(ctx, &c)
		case types.OpDelete:
			return e.remote.DeleteCategory(ctx, c.ID)
		}
	}
	return fmt.Errorf("unknown queue entry %s/%s", entry.Operation, entry.Entity)
}
