package registry

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/state"
)

// A Worker is the registry's live view of one remote executor.
type Worker struct {
	ID       string
	Endpoint string
	Tags     []string
	Capacity int

	LastHeartbeat time.Time
	IdleSince     time.Time

	// probedAt is set when a dispatch send to this worker failed.
	// A probed worker is declared dead on the next sweep unless a
	// heartbeat arrives after the probe.
	probedAt *time.Time

	assigned map[string]struct{}
}

// A Snapshot is an immutable copy of a worker's dispatch-relevant
// fields, handed to the dispatcher so matching never holds the
// registry lock.
type Snapshot struct {
	ID       string
	Endpoint string
	Tags     []string
	Capacity int
	Load     int

	IdleSince time.Time
}

// Spare returns the worker's unused capacity.
func (s Snapshot) Spare() int {
	return s.Capacity - s.Load
}

// A DeathHandler is invoked when a worker's liveness lapses, before
// the worker is forgotten.  The scheduler hangs its requeue logic off
// this hook.
type DeathHandler func(workerID string)

// Registry tracks known workers, their capacity and capability tags,
// and liveness via heartbeats.
type Registry struct {
	l     hclog.Logger
	store *state.Store

	timeout time.Duration
	sweep   time.Duration

	onDeath DeathHandler

	mu      sync.Mutex
	workers map[string]*Worker

	// Now is the clock, swappable in tests.
	Now func() time.Time
}
