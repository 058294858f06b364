package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lanepos/lanepos/internal/types"
)

// EnqueueChange appends an offline catalog edit to the sync queue.
// Entries are replayed per item; a failed replay leaves the entry queued.
func (s *SQLiteStore) EnqueueChange(ctx context.Context, operation, entity string, payload []byte) (*types.QueueEntry, error) {
	entry := &types.QueueEntry{
		ID:         uuid.New().String(),
		Operation:  operation,
		Entity:     entity,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, operation, entity, payload, attempts, last_error, enqueued_at)
		VALUES (?, ?, ?, ?, 0, NULL, ?)
	`, entry.ID, entry.Operation, entry.Entity, string(entry.Payload), formatTime(entry.EnqueuedAt))
	if err != nil {
		return nil, fmt.Errorf("enqueue change: %w", err)
	}
	return entry, nil
}

// ListQueue returns all queued catalog edits in FIFO order.
func (s *SQLiteStore) ListQueue(ctx context.Context) ([]types.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, entity, payload, attempts, last_error, enqueued_at
		FROM sync_queue ORDER BY enqueued_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	var entries []types.QueueEntry
	for rows.Next() {
		var e types.QueueEntry
		var payload string
		var lastError sql.NullString
		var enqueuedAt string
		if err := rows.Scan(&e.ID, &e.Operation, &e.Entity, &payload, &e.Attempts, &lastError, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.LastError = lastError.String
		e.EnqueuedAt = parseTime(enqueuedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return entries, nil
}

// DeleteQueueEntry removes a replayed entry from the queue.
func (s *SQLiteStore) DeleteQueueEntry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordQueueFailure bumps the attempt counter and stores the replay error.
// The entry stays queued for the next cycle.
func (s *SQLiteStore) RecordQueueFailure(ctx context.Context, id string, replayErr error) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		replayErr.Error(), id)
	if err != nil {
		return fmt.Errorf("record queue failure: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// QueueSize returns the number of queued catalog edits.
func (s *SQLiteStore) QueueSize(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return count, nil
}
