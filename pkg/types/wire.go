package types

// A Project identifies one buildable unit: a name plus the target
// platform it is to be built for.  Projects are immutable once part
// of a graph.
type Project struct {
	Name   string
	Target string
}

func (p Project) String() string {
	return p.Name + ":" + p.Target
}

// ReportKind enumerates the kinds of asynchronous reports a worker
// can send back about a job.
type ReportKind string

const (
	ReportStarted   ReportKind = "started"
	ReportProgress  ReportKind = "progress"
	ReportSucceeded ReportKind = "succeeded"
	ReportFailed    ReportKind = "failed"
	ReportAborted   ReportKind = "aborted"
)

// A JobAssignment is the message sent from the scheduler to a worker
// instructing it to perform one build.  InputsRef is an opaque key
// into the external artifact store; the scheduler never looks inside
// it.
type JobAssignment struct {
	JobID     string
	GroupID   string
	Project   Project
	InputsRef string
}

// A JobReport is the message a worker sends back about an assigned
// job.  Delivery is at-least-once, so consumers must treat reports
// idempotently.
type JobReport struct {
	JobID    string
	WorkerID string
	Kind     ReportKind
	Reason   string
}

// A Heartbeat is the periodic liveness message from a worker.  The
// first heartbeat from an unknown worker registers it.
type Heartbeat struct {
	WorkerID string
	Endpoint string
	Capacity int
	Tags     []string
}

// An AbortRequest is the best-effort message asking a worker to stop
// a job it was assigned.  The scheduler's bookkeeping never waits on
// the worker acknowledging it.
type AbortRequest struct {
	JobID    string
	WorkerID string
}
