package state

import (
	"github.com/voidforge/foundry/pkg/types"
)

// ErrNotFound is returned when the requested record does not exist.
type ErrNotFound struct {
	kind string
	id   string
}

// NewErrNotFound returns a not-found error for the given record kind
// and identity.
func NewErrNotFound(kind, id string) ErrNotFound {
	return ErrNotFound{kind, id}
}

func (e ErrNotFound) Error() string {
	return "no " + e.kind + " with id " + e.id
}

// ErrConflict is returned when a transaction lost a race with another
// writer and should be retried from fresh state.
type ErrConflict struct {
	groupID string
}

// NewErrConflict returns a conflict error for the given group.
func NewErrConflict(groupID string) ErrConflict {
	return ErrConflict{groupID}
}

func (e ErrConflict) Error() string {
	return "conflicting write on group " + e.groupID
}

// ErrBadTransition is returned when a conditional transition found
// the job outside its expected prior states.  Callers treating
// reports idempotently check for this and drop the event.
type ErrBadTransition struct {
	jobID string
	from  types.JobState
	to    types.JobState
}

// NewErrBadTransition returns a transition error describing the
// rejected move.
func NewErrBadTransition(jobID string, from, to types.JobState) ErrBadTransition {
	return ErrBadTransition{jobID, from, to}
}

func (e ErrBadTransition) Error() string {
	return "job " + e.jobID + " cannot move " + e.from.String() + " -> " + e.to.String()
}
