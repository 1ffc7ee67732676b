package ingest_test

import (
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/ingest"
	"github.com/voidforge/foundry/pkg/types"
)

type captureSink struct {
	mu   sync.Mutex
	seen map[string][]types.JobReport
}

func newCaptureSink() *captureSink {
	return &captureSink{seen: make(map[string][]types.JobReport)}
}

func (c *captureSink) HandleReport(rep types.JobReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[rep.JobID] = append(c.seen[rep.JobID], rep)
	return nil
}

type captureBeats struct {
	mu   sync.Mutex
	seen []types.Heartbeat
}

func (c *captureBeats) Heartbeat(hb types.Heartbeat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, hb)
	return nil
}

func TestPerJobOrderPreserved(t *testing.T) {
	sink := newCaptureSink()
	ing := ingest.New(hclog.NewNullLogger(), sink, &captureBeats{}, 4)

	const jobs = 10
	const reports = 20
	for seq := 0; seq < reports; seq++ {
		for j := 0; j < jobs; j++ {
			err := ing.Submit(types.JobReport{
				JobID:  fmt.Sprintf("job-%d", j),
				Kind:   types.ReportProgress,
				Reason: strconv.Itoa(seq),
			})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
		}
	}
	ing.Close()

	for j := 0; j < jobs; j++ {
		id := fmt.Sprintf("job-%d", j)
		got := sink.seen[id]
		if len(got) != reports {
			t.Fatalf("%s: expected %d reports, got %d", id, reports, len(got))
		}
		for seq, rep := range got {
			if rep.Reason != strconv.Itoa(seq) {
				t.Fatalf("%s: report %d out of order: %s", id, seq, rep.Reason)
			}
		}
	}
}

func TestHeartbeatPassesThrough(t *testing.T) {
	beats := &captureBeats{}
	ing := ingest.New(hclog.NewNullLogger(), newCaptureSink(), beats, 1)
	defer ing.Close()

	if err := ing.Heartbeat(types.Heartbeat{WorkerID: "w1"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if len(beats.seen) != 1 || beats.seen[0].WorkerID != "w1" {
		t.Fatalf("heartbeat not forwarded: %+v", beats.seen)
	}
}

func TestSubmitAfterCloseRefused(t *testing.T) {
	ing := ingest.New(hclog.NewNullLogger(), newCaptureSink(), &captureBeats{}, 1)
	ing.Close()

	if err := ing.Submit(types.JobReport{JobID: "j1"}); err != ingest.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseDrains(t *testing.T) {
	sink := newCaptureSink()
	ing := ingest.New(hclog.NewNullLogger(), sink, &captureBeats{}, 2)

	for i := 0; i < 50; i++ {
		if err := ing.Submit(types.JobReport{JobID: "j1", Kind: types.ReportProgress}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	ing.Close()

	if len(sink.seen["j1"]) != 50 {
		t.Fatalf("close must drain queued reports, got %d", len(sink.seen["j1"]))
	}
}
