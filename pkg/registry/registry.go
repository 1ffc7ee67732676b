package registry

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/state"
	"github.com/voidforge/foundry/pkg/types"
)

// ErrUnknownWorker is returned for operations naming a worker the
// registry has never heard from or has already declared dead.
var ErrUnknownWorker = errors.New("unknown worker")

// ErrAtCapacity is returned when a reservation would push a worker
// past its declared capacity.
var ErrAtCapacity = errors.New("worker is at capacity")

// New returns a registry sweeping with the given heartbeat timeout
// and sweep interval, writing worker records through the state store.
func New(l hclog.Logger, store *state.Store, timeout, sweep time.Duration) *Registry {
	return &Registry{
		l:       l.Named("registry"),
		store:   store,
		timeout: timeout,
		sweep:   sweep,
		workers: make(map[string]*Worker),
		Now:     time.Now,
	}
}

// OnDeath registers the handler invoked when a worker is declared
// dead.
func (r *Registry) OnDeath(h DeathHandler) {
	r.onDeath = h
}

// Bootstrap reloads persisted worker records after a restart.  Their
// liveness clocks restart from the current time so a brief scheduler
// outage does not immediately orphan every worker's jobs.
func (r *Registry) Bootstrap() error {
	records, err := r.store.Workers()
	if err != nil {
		return err
	}

	now := r.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		w := &Worker{
			ID:            rec.ID,
			Endpoint:      rec.Endpoint,
			Tags:          rec.Tags,
			Capacity:      rec.Capacity,
			LastHeartbeat: now,
			IdleSince:     now,
			assigned:      make(map[string]struct{}),
		}
		for _, jobID := range rec.Assigned {
			w.assigned[jobID] = struct{}{}
		}
		r.workers[rec.ID] = w
	}
	r.l.Info("Recovered workers", "count", len(records))
	return nil
}

// Heartbeat refreshes a worker's liveness, registering it on first
// contact.  Capacity and tags are taken from the heartbeat so workers
// can be reconfigured without rejoining.
func (r *Registry) Heartbeat(hb types.Heartbeat) error {
	now := r.Now()

	r.mu.Lock()
	w, ok := r.workers[hb.WorkerID]
	if !ok {
		w = &Worker{
			ID:        hb.WorkerID,
			IdleSince: now,
			assigned:  make(map[string]struct{}),
		}
		r.workers[hb.WorkerID] = w
		r.l.Info("Worker joined", "worker", hb.WorkerID, "capacity", hb.Capacity, "tags", hb.Tags)
	}
	w.Endpoint = hb.Endpoint
	w.Tags = hb.Tags
	w.Capacity = hb.Capacity
	w.LastHeartbeat = now
	w.probedAt = nil
	rec := r.recordLocked(w)
	r.mu.Unlock()

	return r.store.PutWorker(rec)
}

// Reserve accounts one job against the worker's capacity.  The
// declared capacity is a hard bound.
func (r *Registry) Reserve(workerID, jobID string) error {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownWorker
	}
	if len(w.assigned) >= w.Capacity {
		r.mu.Unlock()
		return ErrAtCapacity
	}
	w.assigned[jobID] = struct{}{}
	rec := r.recordLocked(w)
	r.mu.Unlock()

	return r.store.PutWorker(rec)
}

// Release returns one job's worth of capacity to the worker.  Unknown
// workers are ignored: the job may outlive the worker that ran it.
func (r *Registry) Release(workerID, jobID string) {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(w.assigned, jobID)
	if len(w.assigned) == 0 {
		w.IdleSince = r.Now()
	}
	rec := r.recordLocked(w)
	r.mu.Unlock()

	if err := r.store.PutWorker(rec); err != nil {
		r.l.Warn("Error persisting worker", "worker", workerID, "error", err)
	}
}

// FlagProbe marks a worker whose assignment send failed.  Unless a
// heartbeat arrives first, the next sweep declares it dead.
func (r *Registry) FlagProbe(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return
	}
	now := r.Now()
	w.probedAt = &now
	r.l.Debug("Worker flagged for liveness probe", "worker", workerID)
}

// Snapshots returns dispatch-ready copies of every live worker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, Snapshot{
			ID:        w.ID,
			Endpoint:  w.Endpoint,
			Tags:      append([]string(nil), w.Tags...),
			Capacity:  w.Capacity,
			Load:      len(w.assigned),
			IdleSince: w.IdleSince,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Endpoint resolves a worker's advertised endpoint.
func (r *Registry) Endpoint(workerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return "", ErrUnknownWorker
	}
	return w.Endpoint, nil
}

// Run sweeps for lapsed workers until the context is canceled.
func (r *Registry) Run(ctx context.Context) {
	tick := time.NewTicker(r.sweep)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.Sweep()
		}
	}
}

// Sweep declares dead every worker whose heartbeat has lapsed past
// the timeout, or that was probed and never answered.  The death
// handler runs before the worker record is deleted so requeued jobs
// are durable before the worker is forgotten.
func (r *Registry) Sweep() {
	now := r.Now()

	r.mu.Lock()
	var dead []string
	for id, w := range r.workers {
		lapsed := now.Sub(w.LastHeartbeat) > r.timeout
		probed := w.probedAt != nil && w.LastHeartbeat.Before(*w.probedAt)
		if lapsed || probed {
			dead = append(dead, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(dead)
	for _, id := range dead {
		r.l.Warn("Worker declared dead", "worker", id)
		if r.onDeath != nil {
			r.onDeath(id)
		}
		r.mu.Lock()
		delete(r.workers, id)
		r.mu.Unlock()
		if err := r.store.DelWorker(id); err != nil {
			r.l.Warn("Error removing worker record", "worker", id, "error", err)
		}
	}
}

// recordLocked builds the durable form of a worker.  Callers hold the
// registry lock.
func (r *Registry) recordLocked(w *Worker) *state.WorkerRecord {
	rec := &state.WorkerRecord{
		ID:            w.ID,
		Endpoint:      w.Endpoint,
		Tags:          append([]string(nil), w.Tags...),
		Capacity:      w.Capacity,
		LastHeartbeat: w.LastHeartbeat,
	}
	for jobID := range w.assigned {
		rec.Assigned = append(rec.Assigned, jobID)
	}
	sort.Strings(rec.Assigned)
	return rec
}
