package scheduler

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/dispatch"
	"github.com/voidforge/foundry/pkg/registry"
	"github.com/voidforge/foundry/pkg/state"
)

// WithLogger sets the parent logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Scheduler) error {
		s.l = l.Named("scheduler")
		return nil
	}
}

// WithStore provides the persistence adapter all durable mutation
// routes through.
func WithStore(st *state.Store) Option {
	return func(s *Scheduler) error {
		s.store = st
		return nil
	}
}

// WithRegistry provides the worker registry consulted during
// dispatch.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Scheduler) error {
		s.reg = r
		return nil
	}
}

// WithDispatcher provides the dispatcher used to place ready jobs on
// workers.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Scheduler) error {
		s.dispatcher = d
		return nil
	}
}

// WithRetryBudget sets how many times a job may be requeued after
// worker loss before it is declared failed.
func WithRetryBudget(n int) Option {
	return func(s *Scheduler) error {
		s.retryBudget = n
		return nil
	}
}

// WithDispatchInterval sets how often the dispatch loop runs when
// nothing kicks it awake sooner.
func WithDispatchInterval(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.interval = d
		return nil
	}
}
