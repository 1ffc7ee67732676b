package state

import (
	"sort"
	"time"

	"github.com/voidforge/foundry/pkg/types"
)

// Job returns the member job with the given identity.
func (g *GroupRecord) Job(jobID string) (*JobRecord, error) {
	j, ok := g.Jobs[jobID]
	if !ok {
		return nil, NewErrNotFound("job", jobID)
	}
	return j, nil
}

// TransitionJob conditionally moves a job to a new state.  The move
// is applied only if the job's current state is one of the expected
// prior states; otherwise ErrBadTransition is returned and nothing
// changes.  Stale or duplicate events are rejected here rather than
// corrupting the machine.
func (g *GroupRecord) TransitionJob(jobID string, to types.JobState, now time.Time, from ...types.JobState) error {
	j, err := g.Job(jobID)
	if err != nil {
		return err
	}

	allowed := false
	for _, f := range from {
		if j.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return NewErrBadTransition(jobID, j.State, to)
	}

	j.State = to
	switch {
	case to == types.JobDispatched:
		t := now
		j.DispatchedAt = &t
	case to.Terminal():
		t := now
		j.CompletedAt = &t
	case to == types.JobPending:
		// Requeue path: the job is back in the normal flow and
		// no longer belongs to any worker.
		j.WorkerID = ""
		j.DispatchedAt = nil
	}
	return nil
}

// DepsComplete reports whether every dependency of the job has
// reached the successful terminal state.
func (g *GroupRecord) DepsComplete(jobID string) bool {
	j, ok := g.Jobs[jobID]
	if !ok {
		return false
	}
	for _, dep := range j.DependsOn {
		d, ok := g.Jobs[dep]
		if !ok || d.State != types.JobComplete {
			return false
		}
	}
	return true
}

// Derive recomputes the group's state from its member jobs and
// stores the result on the record.  Group state is never mutated any
// other way.
func (g *GroupRecord) Derive() types.GroupState {
	allTerminal := true
	anyFailed := false
	for _, j := range g.Jobs {
		if !j.State.Terminal() {
			allTerminal = false
		}
		if j.State == types.JobFailed || j.State == types.JobDependencyFailed {
			anyFailed = true
		}
	}

	switch {
	case g.CancelRequested && allTerminal:
		g.State = types.GroupCanceled
	case g.CancelRequested:
		g.State = types.GroupCancelRequested
	case allTerminal && anyFailed:
		g.State = types.GroupFailed
	case allTerminal:
		g.State = types.GroupComplete
	default:
		g.State = types.GroupQueued
	}
	return g.State
}

// RootCauses returns the jobs that actually failed, as opposed to the
// dependents that merely cascaded.  Always answerable per the error
// contract surfaced to clients.
func (g *GroupRecord) RootCauses() []string {
	var out []string
	for id, j := range g.Jobs {
		if j.State == types.JobFailed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// JobsInState returns the identities of member jobs currently in the
// given state.
func (g *GroupRecord) JobsInState(s types.JobState) []string {
	var out []string
	for id, j := range g.Jobs {
		if j.State == s {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// JobsOnWorker returns the identities of member jobs currently
// dispatched to or running on the given worker.
func (g *GroupRecord) JobsOnWorker(workerID string) []string {
	var out []string
	for id, j := range g.Jobs {
		if j.WorkerID != workerID {
			continue
		}
		if j.State == types.JobDispatched || j.State == types.JobRunning {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
