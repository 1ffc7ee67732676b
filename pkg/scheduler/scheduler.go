package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/dispatch"
	"github.com/voidforge/foundry/pkg/graph"
	"github.com/voidforge/foundry/pkg/state"
	"github.com/voidforge/foundry/pkg/types"
)

// New constructs a scheduler from the provided options.
func New(opts ...Option) (*Scheduler, error) {
	s := Scheduler{
		l:           hclog.L().Named("scheduler"),
		retryBudget: 3,
		interval:    time.Second,
		wake:        make(chan struct{}, 1),
		active:      make(map[string]struct{}),
		Now:         time.Now,
	}
	for _, o := range opts {
		if err := o(&s); err != nil {
			return nil, err
		}
	}
	if s.store == nil {
		return nil, errors.New("scheduler requires a state store")
	}
	s.builder = graph.NewBuilder(s.l)
	return &s, nil
}

// Submit validates a submission, persists the new group with every
// job pending, and promotes dependency-free jobs to ready.  The new
// group's identity is returned.  Validation failures never touch
// durable state.
func (s *Scheduler) Submit(target string, specs []graph.ProjectSpec) (string, error) {
	g, err := s.builder.Build(specs)
	if err != nil {
		return "", err
	}

	now := s.Now()
	rec := &state.GroupRecord{
		ID:         uuid.New().String(),
		State:      types.GroupQueued,
		Target:     target,
		CreatedAt:  now,
		Jobs:       make(map[string]*state.JobRecord, len(g.Nodes)),
		Dependents: g.Dependents,
	}
	for id, n := range g.Nodes {
		rec.Jobs[id] = &state.JobRecord{
			ID:        id,
			GroupID:   rec.ID,
			Project:   n.Project,
			InputsRef: n.InputsRef,
			DependsOn: n.DependsOn,
			State:     types.JobPending,
			CreatedAt: now,
		}
	}
	// Jobs with no dependencies are ready the moment they exist.
	for _, id := range g.Roots() {
		rec.Jobs[id].State = types.JobReady
	}

	if err := s.store.CreateGroup(rec); err != nil {
		return "", err
	}

	s.activeMu.Lock()
	s.active[rec.ID] = struct{}{}
	s.activeMu.Unlock()

	s.l.Info("Accepted group", "group", rec.ID, "jobs", len(rec.Jobs), "target", target)
	s.Kick()
	return rec.ID, nil
}

// Kick nudges the dispatch loop to run a pass now.
func (s *Scheduler) Kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Recover rebuilds the in-memory active set from durable state and
// re-promotes any pending jobs whose dependencies are already
// complete.  Called once at startup before the dispatch loop starts.
func (s *Scheduler) Recover() error {
	ids, err := s.store.GroupIDs()
	if err != nil {
		return err
	}

	for _, id := range ids {
		g, err := s.store.GetGroup(id)
		if err != nil {
			return err
		}
		if g.State.Terminal() {
			continue
		}

		_, err = s.store.Txn(id, func(g *state.GroupRecord) error {
			for jobID, j := range g.Jobs {
				if j.State == types.JobPending && g.DepsComplete(jobID) {
					j.State = types.JobReady
				}
			}
			g.Derive()
			return nil
		})
		if err != nil {
			return err
		}

		s.activeMu.Lock()
		s.active[id] = struct{}{}
		s.activeMu.Unlock()
	}

	s.l.Info("Recovered active groups", "count", len(s.active))
	return nil
}

// Run drives dispatch passes until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		case <-s.wake:
		}
		s.DispatchPass()
	}
}

// DispatchPass offers every ready job to the dispatcher and commits
// the resulting assignments.  Sends to workers happen strictly after
// the state transaction, so a slow worker never blocks scheduling of
// unrelated jobs.
func (s *Scheduler) DispatchPass() {
	if s.dispatcher == nil || s.reg == nil {
		return
	}

	var cands []dispatch.Candidate
	for _, groupID := range s.activeGroups() {
		g, err := s.store.GetGroup(groupID)
		if err != nil {
			s.l.Warn("Error loading group for dispatch", "group", groupID, "error", err)
			continue
		}
		if g.State.Terminal() {
			s.retire(groupID)
			continue
		}
		for _, jobID := range g.JobsInState(types.JobReady) {
			j := g.Jobs[jobID]
			tags := []string{j.Project.Target}
			if g.Target != "" {
				tags = append(tags, g.Target)
			}
			cands = append(cands, dispatch.Candidate{
				Assignment: types.JobAssignment{
					JobID:     jobID,
					GroupID:   groupID,
					Project:   j.Project,
					InputsRef: j.InputsRef,
				},
				RequiredTags: tags,
			})
		}
	}
	if len(cands) == 0 {
		return
	}

	matches := s.dispatcher.Assign(cands, s.reg.Snapshots())
	for _, m := range matches {
		s.commit(m)
	}
}

// commit records one assignment and then delivers it.  A failed
// delivery reverts the job to ready and flags the worker for a
// liveness probe; this is backpressure, not a job failure.
func (s *Scheduler) commit(m dispatch.Match) {
	if err := s.reg.Reserve(m.WorkerID, m.Assignment.JobID); err != nil {
		s.l.Debug("Reservation lost", "job", m.Assignment.JobID, "worker", m.WorkerID, "error", err)
		return
	}

	now := s.Now()
	_, err := s.store.Txn(m.Assignment.GroupID, func(g *state.GroupRecord) error {
		if err := g.TransitionJob(m.Assignment.JobID, types.JobDispatched, now, types.JobReady); err != nil {
			return err
		}
		j, _ := g.Job(m.Assignment.JobID)
		j.WorkerID = m.WorkerID
		return nil
	})
	if err != nil {
		// The job moved under us, likely via cancellation.
		s.l.Debug("Assignment abandoned", "job", m.Assignment.JobID, "error", err)
		s.reg.Release(m.WorkerID, m.Assignment.JobID)
		return
	}

	if err := s.dispatcher.Send(m); err != nil {
		_, terr := s.store.Txn(m.Assignment.GroupID, func(g *state.GroupRecord) error {
			if err := g.TransitionJob(m.Assignment.JobID, types.JobReady, s.Now(), types.JobDispatched); err != nil {
				return err
			}
			j, _ := g.Job(m.Assignment.JobID)
			j.WorkerID = ""
			j.DispatchedAt = nil
			return nil
		})
		if terr != nil {
			s.l.Warn("Unable to revert failed dispatch", "job", m.Assignment.JobID, "error", terr)
		}
		s.reg.Release(m.WorkerID, m.Assignment.JobID)
		s.reg.FlagProbe(m.WorkerID)
	}
}

func (s *Scheduler) activeGroups() []string {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

func (s *Scheduler) retire(groupID string) {
	s.activeMu.Lock()
	delete(s.active, groupID)
	s.activeMu.Unlock()
}
