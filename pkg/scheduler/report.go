package scheduler

import (
	"errors"

	"github.com/voidforge/foundry/pkg/state"
	"github.com/voidforge/foundry/pkg/types"
)

// HandleReport applies one asynchronous worker report to the state
// machine.  Transitions are conditional on the expected prior states,
// so duplicate or stale reports from the at-least-once transport fall
// out as no-ops rather than illegal moves.
func (s *Scheduler) HandleReport(rep types.JobReport) error {
	groupID, err := s.store.GroupForJob(rep.JobID)
	if err != nil {
		s.l.Warn("Report for unknown job", "job", rep.JobID, "kind", rep.Kind)
		return err
	}

	switch rep.Kind {
	case types.ReportStarted:
		return s.handleStarted(groupID, rep)
	case types.ReportProgress:
		s.l.Trace("Progress", "job", rep.JobID, "worker", rep.WorkerID)
		return nil
	case types.ReportSucceeded:
		return s.handleSucceeded(groupID, rep)
	case types.ReportFailed:
		return s.handleFailed(groupID, rep)
	case types.ReportAborted:
		// Abort confirmations carry no state: the job was moved
		// to canceled locally when the cancel was requested.
		s.l.Debug("Abort confirmed", "job", rep.JobID, "worker", rep.WorkerID)
		return nil
	default:
		s.l.Warn("Unknown report kind", "kind", rep.Kind, "job", rep.JobID)
		return nil
	}
}

func (s *Scheduler) handleStarted(groupID string, rep types.JobReport) error {
	now := s.Now()
	_, err := s.store.Txn(groupID, func(g *state.GroupRecord) error {
		return g.TransitionJob(rep.JobID, types.JobRunning, now, types.JobDispatched)
	})
	if isStale(err) {
		s.l.Trace("Stale started report", "job", rep.JobID)
		return nil
	}
	return err
}

func (s *Scheduler) handleSucceeded(groupID string, rep types.JobReport) error {
	now := s.Now()
	var workerID string
	g, err := s.store.Txn(groupID, func(g *state.GroupRecord) error {
		j, err := g.Job(rep.JobID)
		if err != nil {
			return err
		}
		workerID = j.WorkerID
		if err := g.TransitionJob(rep.JobID, types.JobComplete, now, types.JobDispatched, types.JobRunning); err != nil {
			return err
		}
		// Readiness is incremental: only direct dependents of
		// the completed job need a check.
		for _, dep := range g.Dependents[rep.JobID] {
			if g.Jobs[dep].State == types.JobPending && g.DepsComplete(dep) {
				g.Jobs[dep].State = types.JobReady
			}
		}
		g.Derive()
		return nil
	})
	if isStale(err) {
		s.l.Trace("Duplicate succeeded report", "job", rep.JobID)
		return nil
	}
	if err != nil {
		return err
	}

	if workerID != "" {
		s.reg.Release(workerID, rep.JobID)
	}
	s.l.Debug("Job complete", "job", rep.JobID, "group", groupID, "groupState", g.State)
	if g.State.Terminal() {
		s.retire(groupID)
	}
	s.Kick()
	return nil
}

func (s *Scheduler) handleFailed(groupID string, rep types.JobReport) error {
	now := s.Now()
	var workerID string
	g, err := s.store.Txn(groupID, func(g *state.GroupRecord) error {
		j, err := g.Job(rep.JobID)
		if err != nil {
			return err
		}
		workerID = j.WorkerID
		if err := g.TransitionJob(rep.JobID, types.JobFailed, now, types.JobDispatched, types.JobRunning); err != nil {
			return err
		}
		j.FailReason = rep.Reason
		s.cascade(g, rep.JobID, types.JobDependencyFailed)
		g.Derive()
		return nil
	})
	if isStale(err) {
		s.l.Trace("Duplicate failed report", "job", rep.JobID)
		return nil
	}
	if err != nil {
		return err
	}

	if workerID != "" {
		s.reg.Release(workerID, rep.JobID)
	}
	s.l.Info("Job failed", "job", rep.JobID, "group", groupID, "reason", rep.Reason, "groupState", g.State)
	if g.State.Terminal() {
		s.retire(groupID)
	}
	return nil
}

// Cancel requests cancellation of a group.  Idempotent once the group
// is terminal.  Every non-terminal job is canceled locally in one
// atomic batch; jobs on workers additionally get a best-effort abort
// message after the batch commits.
func (s *Scheduler) Cancel(groupID string) error {
	now := s.Now()
	var aborts []types.AbortRequest
	g, err := s.store.Txn(groupID, func(g *state.GroupRecord) error {
		if g.State.Terminal() {
			return nil
		}
		g.CancelRequested = true
		for jobID, j := range g.Jobs {
			if j.State.Terminal() {
				continue
			}
			if j.State == types.JobDispatched || j.State == types.JobRunning {
				aborts = append(aborts, types.AbortRequest{JobID: jobID, WorkerID: j.WorkerID})
			}
			j.State = types.JobCanceled
			t := now
			j.CompletedAt = &t
		}
		g.Derive()
		return nil
	})
	if err != nil {
		return err
	}

	for _, ab := range aborts {
		s.reg.Release(ab.WorkerID, ab.JobID)
		endpoint, err := s.reg.Endpoint(ab.WorkerID)
		if err != nil {
			continue
		}
		if s.dispatcher != nil {
			s.dispatcher.Abort(ab, endpoint)
		}
	}

	if g.State.Terminal() {
		s.retire(groupID)
	}
	s.l.Info("Group canceled", "group", groupID, "aborted", len(aborts))
	return nil
}

// RequeueWorker handles the loss of a worker: every job dispatched to
// or running on it goes back to pending if its retry budget allows,
// and fails with a cascade otherwise.  One atomic batch per affected
// group.  Wired to the registry's death hook.
func (s *Scheduler) RequeueWorker(workerID string) {
	rec, err := s.store.GetWorker(workerID)
	if err != nil {
		s.l.Warn("Lost worker has no record", "worker", workerID, "error", err)
		return
	}

	byGroup := make(map[string][]string)
	for _, jobID := range rec.Assigned {
		groupID, err := s.store.GroupForJob(jobID)
		if err != nil {
			s.l.Warn("Orphaned assignment", "job", jobID, "worker", workerID, "error", err)
			continue
		}
		byGroup[groupID] = append(byGroup[groupID], jobID)
	}

	now := s.Now()
	for groupID := range byGroup {
		g, err := s.store.Txn(groupID, func(g *state.GroupRecord) error {
			for _, jobID := range g.JobsOnWorker(workerID) {
				j := g.Jobs[jobID]
				if j.Retries < s.retryBudget {
					j.Retries++
					if err := g.TransitionJob(jobID, types.JobPending, now, types.JobDispatched, types.JobRunning); err != nil {
						return err
					}
					// Dependencies completed before the
					// original dispatch, so the job is
					// ready again immediately.
					if g.DepsComplete(jobID) {
						j.State = types.JobReady
					}
					s.l.Info("Requeued job after worker loss", "job", jobID, "worker", workerID, "retries", j.Retries)
				} else {
					if err := g.TransitionJob(jobID, types.JobFailed, now, types.JobDispatched, types.JobRunning); err != nil {
						return err
					}
					j.FailReason = "worker lost, retry budget exhausted"
					s.cascade(g, jobID, types.JobDependencyFailed)
					s.l.Warn("Job failed after worker loss", "job", jobID, "worker", workerID)
				}
			}
			g.Derive()
			return nil
		})
		if err != nil {
			s.l.Error("Unable to requeue after worker loss", "group", groupID, "worker", workerID, "error", err)
			continue
		}
		if g.State.Terminal() {
			s.retire(groupID)
		}
	}
	s.Kick()
}

// cascade moves every transitive dependent of the root job that is
// still non-terminal into the given terminal state.  Runs inside a
// group transaction so the whole cascade commits as one batch and a
// half-cascaded group is never observable.
func (s *Scheduler) cascade(g *state.GroupRecord, rootID string, to types.JobState) {
	now := s.Now()
	stack := append([]string(nil), g.Dependents[rootID]...)
	seen := make(map[string]struct{})
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		j, ok := g.Jobs[id]
		if ok && !j.State.Terminal() {
			j.State = to
			t := now
			j.CompletedAt = &t
		}
		stack = append(stack, g.Dependents[id]...)
	}
}

// isStale reports whether a transaction failed only because the event
// arrived late or twice.
func isStale(err error) bool {
	var bad state.ErrBadTransition
	return errors.As(err, &bad)
}
