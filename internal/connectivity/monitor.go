// Package connectivity tracks whether the back office is reachable. The
// terminal itself never goes down with the network; this signal only gates
// when sync cycles are worth attempting.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober performs a single reachability check. The remote client's Ping
// is the production prober.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor polls the prober and reports online/offline transitions to
// subscribers. It starts pessimistic: offline until the first probe
// succeeds.
type Monitor struct {
	prober   Prober
	interval time.Duration

	mu          sync.Mutex
	online      bool
	subscribers []func(online bool)
}

// New creates a Monitor probing at the given interval.
func New(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{prober: prober, interval: interval}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a callback invoked on every online/offline
// transition. Callbacks run on the monitor's goroutine and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Run probes immediately, then on every tick, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("connectivity monitor started",
		"component", "connectivity",
		"interval", m.interval,
	)

	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity monitor stopped", "component", "connectivity")
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one reachability check and publishes a transition if the
// state changed. Exposed so a manual sync trigger can force a re-check.
func (m *Monitor) Probe(ctx context.Context) bool {
	err := m.prober.Ping(ctx)
	online := err == nil

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	subscribers := make([]func(bool), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	if changed {
		if online {
			slog.Info("back office reachable", "component", "connectivity", "action", "online")
		} else {
			slog.Warn("back office unreachable", "component", "connectivity", "action", "offline", "error", err)
		}
		for _, fn := range subscribers {
			fn(online)
		}
	}
	return online
}
