package dispatch

import (
	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/registry"
	"github.com/voidforge/foundry/pkg/types"
)

// A Candidate is one ready job offered for assignment, together with
// the capability tags a worker must carry to accept it.
type Candidate struct {
	Assignment   types.JobAssignment
	RequiredTags []string
}

// A Match binds one candidate to the worker chosen for it.
type Match struct {
	Assignment types.JobAssignment
	WorkerID   string
	Endpoint   string
}

// Transports deliver assignment and abort messages to workers.
// Delivery is at-least-once and best-effort; a failed send is
// backpressure, not an error in the job's life.
type Transport interface {
	Send(Match) error
	Abort(types.AbortRequest, string) error
}

// Dispatcher matches ready jobs against available worker capacity.
type Dispatcher struct {
	l hclog.Logger

	transport Transport
}

// matcher tracks a worker's remaining room during one assignment
// pass so a single pass never overcommits it.
type matcher struct {
	snap registry.Snapshot
	load int
}
