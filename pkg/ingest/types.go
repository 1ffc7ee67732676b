package ingest

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/types"
)

// A Sink consumes job reports in the order the ingestor accepted
// them.  The scheduler is the production sink.
type Sink interface {
	HandleReport(types.JobReport) error
}

// A Liveness consumer takes heartbeats.  The worker registry is the
// production implementation.
type Liveness interface {
	Heartbeat(types.Heartbeat) error
}

// Ingestor takes asynchronous worker reports off the wire and feeds
// them to the sink.  Reports for the same job always land on the same
// shard, so per-job arrival order is preserved while jobs in
// different shards flow in parallel.
type Ingestor struct {
	l hclog.Logger

	sink  Sink
	beats Liveness

	shards []chan types.JobReport
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}
