// Package syncengine reconciles the terminal's local state with the back
// office: it pushes pending transactions in one bulk call, applies the
// server's per-item verdicts, replays queued catalog edits item by item,
// and refreshes the catalog mirror once the terminal is fully caught up.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lanepos/lanepos/internal/ledger"
	"github.com/lanepos/lanepos/internal/remote"
	"github.com/lanepos/lanepos/internal/types"
)

// ErrSyncInProgress is returned when a cycle is requested while another is
// running. At most one cycle mutates local state at a time.
var ErrSyncInProgress = errors.New("sync already in progress")

// State is the engine's externally visible condition.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateFailed  State = "failed"
)

// Store is the slice of the durable store the engine needs.
type Store interface {
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	PendingTransactions(ctx context.Context) ([]types.Transaction, error)
	PendingCount(ctx context.Context) (int, error)
	MarkTransactionSynced(ctx context.Context, clientTransactionID, serverID, transactionCode string, syncedAt time.Time) error
	DeleteTransaction(ctx context.Context, clientTransactionID string) error
	ListQueue(ctx context.Context) ([]types.QueueEntry, error)
	DeleteQueueEntry(ctx context.Context, id string) error
	RecordQueueFailure(ctx context.Context, id string, replayErr error) error
	QueueSize(ctx context.Context) (int, error)
	ReplaceProducts(ctx context.Context, products []types.Product) error
	ReplaceCategories(ctx context.Context, categories []types.Category) error
	SetLastSync(ctx context.Context, key string, t time.Time) error
	GetLastSync(ctx context.Context, key string) (time.Time, error)
}

// Remote is the slice of the back-office client the engine needs.
type Remote interface {
	BulkSync(ctx context.Context, transactions []types.Transaction) (*remote.BulkSyncResult, error)
	FetchProducts(ctx context.Context, limit int) ([]types.Product, error)
	FetchCategories(ctx context.Context) ([]types.Category, error)
	CreateProduct(ctx context.Context, p *types.Product) error
	UpdateProduct(ctx context.Context, p *types.Product) error
	DeleteProduct(ctx context.Context, id string) error
	CreateCategory(ctx context.Context, c *types.Category) error
	UpdateCategory(ctx context.Context, c *types.Category) error
	DeleteCategory(ctx context.Context, id string) error
}

// CycleResult summarizes one completed sync cycle.
type CycleResult struct {
	Submitted     int       `json:"submitted"`
	Accepted      int       `json:"accepted"`
	Rejected      int       `json:"rejected"`
	StillPending  int       `json:"still_pending"`
	QueueReplayed int       `json:"queue_replayed"`
	QueueFailed   int       `json:"queue_failed"`
	MirrorUpdated bool      `json:"mirror_updated"`
	Errors        []string  `json:"errors,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	State      State        `json:"state"`
	LastError  string       `json:"last_error,omitempty"`
	LastResult *CycleResult `json:"last_result,omitempty"`
	LastSync   time.Time    `json:"last_sync,omitempty"`
}

// Engine runs sync cycles. All mutation of local state during a cycle goes
// through the store and the ledger; the engine itself holds no domain data.
type Engine struct {
	store  Store
	ledger *ledger.Ledger
	remote Remote

	mu         sync.Mutex
	state      State
	lastError  string
	lastResult *CycleResult
}

// New creates an Engine.
func New(store Store, ldg *ledger.Ledger, rm Remote) *Engine {
	return &Engine{store: store, ledger: ldg, remote: rm, state: StateIdle}
}

// Status reports the engine's current state.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	st := Status{State: e.state, LastError: e.lastError, LastResult: e.lastResult}
	e.mu.Unlock()

	if t, err := e.store.GetLastSync(ctx, types.MetaLastSync); err == nil {
		st.LastSync = t
	}
	return st
}

// Syncing reports whether a cycle is currently running.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateSyncing
}

// TryCycle runs one full sync cycle, or returns ErrSyncInProgress if another
// cycle holds the gate. The gate is taken before any remote call so two
// triggers arriving together can never double-apply verdicts.
func (e *Engine) TryCycle(ctx context.Context) (*CycleResult, error) {
	e.mu.Lock()
	if e.state == StateSyncing {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	e.state = StateSyncing
	e.mu.Unlock()

	result, err := e.runCycle(ctx)

	e.mu.Lock()
	if err != nil {
		e.state = StateFailed
		e.lastError = err.Error()
	} else {
		e.state = StateIdle
		e.lastError = ""
		e.lastResult = result
	}
	e.mu.Unlock()

	return result, err
}

// runCycle executes the three phases of a cycle: transaction bulk sync,
// queue replay, and mirror refresh. A transport or contract failure in the
// bulk phase aborts the cycle before any local mutation; everything stays
// pending for the next attempt.
func (e *Engine) runCycle(ctx context.Context) (*CycleResult, error) {
	started := time.Now().UTC()
	result := &CycleResult{}

	pending, err := e.store.PendingTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending transactions: %w", err)
	}
	result.Submitted = len(pending)

	if len(pending) > 0 {
		verdicts, err := e.remote.BulkSync(ctx, pending)
		if err != nil {
			slog.Warn("bulk sync failed, keeping batch pending",
				"component", "syncengine",
				"action", "bulk_sync",
				"pending", len(pending),
				"error", err,
			)
			return nil, fmt.Errorf("bulk sync: %w", err)
		}
		e.applyVerdicts(ctx, pending, verdicts, result)
	}

	e.replayQueue(ctx, result)

	remaining, err := e.store.PendingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count remaining pending: %w", err)
	}
	result.StillPending = remaining

	// The mirror overwrites local stock, so it only refreshes once no
	// locally applied deductions are waiting for a server verdict.
	if remaining == 0 {
		if err := e.refreshMirror(ctx); err != nil {
			result.Errors = append(result.Errors, err.Error())
			slog.Warn("mirror refresh failed",
				"component", "syncengine",
				"action", "refresh_mirror",
				"error", err,
			)
		} else {
			result.MirrorUpdated = true
		}
	}

	result.CompletedAt = time.Now().UTC()
	if err := e.store.SetLastSync(ctx, types.MetaLastSync, result.CompletedAt); err != nil {
		return nil, fmt.Errorf("stamp last sync: %w", err)
	}

	slog.Info("sync cycle completed",
		"component", "syncengine",
		"action", "cycle",
		"submitted", result.Submitted,
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"still_pending", result.StillPending,
		"queue_replayed", result.QueueReplayed,
		"queue_failed", result.QueueFailed,
		"mirror_updated", result.MirrorUpdated,
		"duration", time.Since(started),
	)
	return result, nil
}

// applyVerdicts walks the server's response and settles each submitted
// transaction. Accepted ids are marked synced with the server's code; stock
// is untouched since the local deduction already anticipated the sale.
// Rejected ids get their stock deltas rolled back, then the local record is
// deleted. Ids in neither list stay pending and resubmit next cycle.
func (e *Engine) applyVerdicts(ctx context.Context, submitted []types.Transaction, verdicts *remote.BulkSyncResult, result *CycleResult) {
	byClientID := make(map[string]*types.Transaction, len(submitted))
	for i := range submitted {
		byClientID[submitted[i].ClientTransactionID] = &submitted[i]
	}

	now := time.Now().UTC()
	for _, accepted := range verdicts.Transactions {
		if _, ok := byClientID[accepted.ClientTransactionID]; !ok {
			continue
		}
		if err := e.store.MarkTransactionSynced(ctx, accepted.ClientTransactionID, accepted.ID, accepted.TransactionCode, now); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("mark synced %s: %v", accepted.ClientTransactionID, err))
			continue
		}
		result.Accepted++
		slog.Info("transaction accepted",
			"component", "syncengine",
			"action", "mark_synced",
			"client_transaction_id", accepted.ClientTransactionID,
			"transaction_code", accepted.TransactionCode,
		)
	}

	for _, rejected := range verdicts.Errors {
		t, ok := byClientID[rejected.ClientTransactionID]
		if !ok {
			continue
		}
		if err := e.ledger.Rollback(ctx, t.StockDeltas); err != nil {
			// Keep the record so the deltas survive for a later
			// rollback attempt; next cycle resubmits it.
			result.Errors = append(result.Errors, fmt.Sprintf("rollback %s: %v", rejected.ClientTransactionID, err))
			continue
		}
		if err := e.store.DeleteTransaction(ctx, rejected.ClientTransactionID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete rejected %s: %v", rejected.ClientTransactionID, err))
			continue
		}
		result.Rejected++
		slog.Warn("transaction rejected, stock restored",
			"component", "syncengine",
			"action", "rollback",
			"client_transaction_id", rejected.ClientTransactionID,
			"reason", rejected.Message,
		)
	}
}
