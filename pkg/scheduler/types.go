package scheduler

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/dispatch"
	"github.com/voidforge/foundry/pkg/graph"
	"github.com/voidforge/foundry/pkg/registry"
	"github.com/voidforge/foundry/pkg/state"
)

// Scheduler owns readiness computation, the job and group state
// machines, and cascade semantics.  All durable mutation flows
// through the state store; everything the scheduler itself holds is a
// cache rebuildable from durable state.
type Scheduler struct {
	l hclog.Logger

	store      *state.Store
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	builder    *graph.Builder

	retryBudget int
	interval    time.Duration

	// wake is kicked whenever new work may have become ready so
	// the dispatch loop does not wait out its full interval.
	wake chan struct{}

	activeMu sync.Mutex
	active   map[string]struct{}

	// Now is the clock, swappable in tests.
	Now func() time.Time
}

// Option configures a Scheduler during construction.
type Option func(*Scheduler) error
