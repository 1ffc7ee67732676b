package ingest

import (
	"errors"
	"hash/fnv"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/types"
)

// ErrClosed is returned for reports submitted after shutdown began.
var ErrClosed = errors.New("ingestor is shut down")

const shardDepth = 64

// New returns a running ingestor with the given number of shards.
// Each shard is drained by its own goroutine, so the sink sees
// reports for any one job strictly in arrival order.
func New(l hclog.Logger, sink Sink, beats Liveness, shards int) *Ingestor {
	if shards < 1 {
		shards = 1
	}
	x := &Ingestor{
		l:      l.Named("ingest"),
		sink:   sink,
		beats:  beats,
		shards: make([]chan types.JobReport, shards),
	}
	for i := range x.shards {
		x.shards[i] = make(chan types.JobReport, shardDepth)
		x.wg.Add(1)
		go x.drain(i)
	}
	return x
}

// Submit accepts one report for ordered delivery to the sink.  It may
// block briefly on a full shard but never holds any scheduler state
// while doing so.
func (i *Ingestor) Submit(rep types.JobReport) error {
	i.closeMu.RLock()
	defer i.closeMu.RUnlock()
	if i.closed {
		return ErrClosed
	}
	i.shards[shardFor(rep.JobID, len(i.shards))] <- rep
	return nil
}

// Heartbeat forwards a liveness report to the registry.
func (i *Ingestor) Heartbeat(hb types.Heartbeat) error {
	return i.beats.Heartbeat(hb)
}

// Close stops intake and waits for queued reports to drain into the
// sink.
func (i *Ingestor) Close() {
	i.closeMu.Lock()
	if i.closed {
		i.closeMu.Unlock()
		i.wg.Wait()
		return
	}
	i.closed = true
	for _, ch := range i.shards {
		close(ch)
	}
	i.closeMu.Unlock()
	i.wg.Wait()
}

func (i *Ingestor) drain(shard int) {
	defer i.wg.Done()
	for rep := range i.shards[shard] {
		if err := i.sink.HandleReport(rep); err != nil {
			i.l.Warn("Report not applied", "job", rep.JobID, "kind", rep.Kind, "error", err)
		}
	}
}

func shardFor(jobID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return int(h.Sum32()) % n
}
