package state

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/storage"
	"github.com/voidforge/foundry/pkg/types"
)

// A JobRecord is the durable form of one build job.  The dependency
// list is fixed at creation; only the state machine fields change
// over the record's life, and a record is never deleted, only moved
// to a terminal state.
type JobRecord struct {
	ID        string
	GroupID   string
	Project   types.Project
	InputsRef string
	DependsOn []string

	State      types.JobState
	WorkerID   string
	Retries    int
	FailReason string

	CreatedAt    time.Time
	DispatchedAt *time.Time
	CompletedAt  *time.Time
}

// A GroupRecord is the durable form of one submitted group together
// with every member job.  The whole record is stored under a single
// key, so a batch of transitions within one group commits atomically
// with one write and observers can never see a half-applied cascade.
type GroupRecord struct {
	ID              string
	State           types.GroupState
	Target          string
	CancelRequested bool
	CreatedAt       time.Time

	// Version counts committed transactions on this record and
	// guards against concurrent writers outside this process.
	Version uint64

	Jobs       map[string]*JobRecord
	Dependents map[string][]string
}

// A WorkerRecord is the durable form of one known worker.  Workers
// are ephemeral: created on first heartbeat, deleted once liveness
// lapses.
type WorkerRecord struct {
	ID       string
	Endpoint string
	Tags     []string
	Capacity int

	LastHeartbeat time.Time
	Assigned      []string
}

// Store is the persistence adapter.  It is the only component that
// mutates durable job, group, or worker state, and it exposes only
// whole-record atomic operations.  Transitions within one group are
// serialized by a per-group mutex, which is the system's unit of
// isolation; distinct groups proceed fully in parallel.
type Store struct {
	l  hclog.Logger
	kv storage.Storage

	mu      sync.Mutex
	groupMu map[string]*sync.Mutex
}
