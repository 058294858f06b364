// Package worker hosts the background loops of the lanepos daemon.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lanepos/lanepos/internal/syncengine"
)

// Engine is the slice of the sync engine the coordinator needs.
type Engine interface {
	TryCycle(ctx context.Context) (*syncengine.CycleResult, error)
	Syncing() bool
}

// Connectivity is the slice of the monitor the coordinator needs.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool))
}

// Backlog reports whether the terminal holds unsettled local state.
type Backlog interface {
	PendingCount(ctx context.Context) (int, error)
	QueueSize(ctx context.Context) (int, error)
}

// SyncCoordinator decides when sync cycles run: on reconnect, on a manual
// trigger, and periodically while a backlog exists. The engine's own gate
// guarantees overlapping triggers collapse into one running cycle.
type SyncCoordinator struct {
	engine   Engine
	monitor  Connectivity
	backlog  Backlog
	interval time.Duration
	trigger  chan struct{}
}

// NewSyncCoordinator creates a coordinator running cycles at the given
// interval while work is pending.
func NewSyncCoordinator(engine Engine, monitor Connectivity, backlog Backlog, interval time.Duration) *SyncCoordinator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SyncCoordinator{
		engine:   engine,
		monitor:  monitor,
		backlog:  backlog,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// TriggerSync requests a cycle as soon as possible. Returns false when a
// cycle is already running; the caller reports the conflict instead of
// queueing a duplicate.
func (c *SyncCoordinator) TriggerSync() bool {
	if c.engine.Syncing() {
		return false
	}
	select {
	case c.trigger <- struct{}{}:
	default:
	}
	return true
}

// Run drives the coordinator until ctx is cancelled. The monitor's
// reconnect transition feeds the same trigger channel as manual requests.
func (c *SyncCoordinator) Run(ctx context.Context) {
	c.monitor.Subscribe(func(online bool) {
		if online {
			select {
			case c.trigger <- struct{}{}:
			default:
			}
		}
	})

	slog.Info("sync coordinator started",
		"component", "worker",
		"interval", c.interval,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopped", "component", "worker")
			return
		case <-c.trigger:
			c.runCycle(ctx)
		case <-ticker.C:
			if c.hasBacklog(ctx) {
				c.runCycle(ctx)
			}
		}
	}
}

// hasBacklog reports whether any pending transactions or queued catalog
// edits are waiting. Periodic cycles are skipped when nothing is waiting;
// the mirror still refreshes whenever a triggered cycle runs.
func (c *SyncCoordinator) hasBacklog(ctx context.Context) bool {
	pending, err := c.backlog.PendingCount(ctx)
	if err != nil {
		slog.Error("pending count failed", "component", "worker", "error", err)
		return false
	}
	if pending > 0 {
		return true
	}
	queued, err := c.backlog.QueueSize(ctx)
	if err != nil {
		slog.Error("queue size failed", "component", "worker", "error", err)
		return false
	}
	return queued > 0
}

// runCycle attempts one cycle if the back office is reachable. A cycle lost
// to the gate is fine; the running cycle is doing the same work.
func (c *SyncCoordinator) runCycle(ctx context.Context) {
	if !c.monitor.Online() {
		slog.Debug("skipping sync cycle while offline", "component", "worker")
		return
	}
	if _, err := c.engine.TryCycle(ctx); err != nil && !errors.Is(err, syncengine.ErrSyncInProgress) {
		slog.Error("sync cycle failed",
			"component", "worker",
			"action", "cycle",
			"error", err,
		)
	}
}
