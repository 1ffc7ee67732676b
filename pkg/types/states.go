package types

// JobState describes where a single build job is in its lifecycle.
// Transitions are monotonic: a job never returns to an earlier state,
// with the single exception of the requeue path back to Pending after
// a worker is lost.
type JobState int

const (
	// JobPending is the state all jobs are created in.  A pending
	// job still has unfinished dependencies.
	JobPending JobState = iota

	// JobReady means every dependency has completed and the job
	// is eligible for dispatch.
	JobReady

	// JobDispatched means an assignment has been sent to a worker
	// but the worker has not yet confirmed starting it.
	JobDispatched

	// JobRunning means the assigned worker reported that the
	// build started.
	JobRunning

	// JobComplete is the successful terminal state.
	JobComplete

	// JobFailed is the terminal state for a build that was
	// attempted and did not succeed.
	JobFailed

	// JobDependencyFailed is the terminal state for a job that
	// was never attempted because something it depends on failed
	// or was canceled.
	JobDependencyFailed

	// JobCanceled is the terminal state reached via explicit
	// group cancellation.
	JobCanceled
)

var jobStateNames = map[JobState]string{
	JobPending:          "pending",
	JobReady:            "ready",
	JobDispatched:       "dispatched",
	JobRunning:          "running",
	JobComplete:         "complete",
	JobFailed:           "failed",
	JobDependencyFailed: "dependency-failed",
	JobCanceled:         "canceled",
}

func (s JobState) String() string {
	n, ok := jobStateNames[s]
	if !ok {
		return "unknown"
	}
	return n
}

// Terminal returns whether the state is one a job can never leave.
func (s JobState) Terminal() bool {
	switch s {
	case JobComplete, JobFailed, JobDependencyFailed, JobCanceled:
		return true
	}
	return false
}

// GroupState is derived from the states of a group's member jobs and
// is never stored independently of them.
type GroupState int

const (
	// GroupQueued means at least one job has not reached a
	// terminal state and nothing has failed yet.
	GroupQueued GroupState = iota

	// GroupCancelRequested means cancellation was asked for but
	// some jobs have not yet settled.
	GroupCancelRequested

	// GroupComplete means every member job completed.
	GroupComplete

	// GroupFailed means at least one member failed and the
	// cascade has fully settled.
	GroupFailed

	// GroupCanceled means cancellation was requested and every
	// member has reached a terminal state.
	GroupCanceled
)

var groupStateNames = map[GroupState]string{
	GroupQueued:          "queued",
	GroupCancelRequested: "cancel-requested",
	GroupComplete:        "complete",
	GroupFailed:          "failed",
	GroupCanceled:        "canceled",
}

func (s GroupState) String() string {
	n, ok := groupStateNames[s]
	if !ok {
		return "unknown"
	}
	return n
}

// Terminal returns whether a group has settled for good.
func (s GroupState) Terminal() bool {
	switch s {
	case GroupComplete, GroupFailed, GroupCanceled:
		return true
	}
	return false
}
