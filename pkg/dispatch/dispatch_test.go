package dispatch_test

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/dispatch"
	"github.com/voidforge/foundry/pkg/registry"
	"github.com/voidforge/foundry/pkg/types"
)

func cand(jobID string, tags ...string) dispatch.Candidate {
	return dispatch.Candidate{
		Assignment:   types.JobAssignment{JobID: jobID},
		RequiredTags: tags,
	}
}

func snap(id string, capacity, load int, idle time.Time, tags ...string) registry.Snapshot {
	return registry.Snapshot{ID: id, Capacity: capacity, Load: load, IdleSince: idle, Tags: tags}
}

func TestAssignMatchesTags(t *testing.T) {
	d := dispatch.New(hclog.NewNullLogger(), nil)
	now := time.Now()

	matches := d.Assign(
		[]dispatch.Candidate{cand("j1", "aarch64")},
		[]registry.Snapshot{
			snap("w-x86", 4, 0, now, "x86_64"),
			snap("w-arm", 4, 0, now, "aarch64"),
		},
	)
	if len(matches) != 1 || matches[0].WorkerID != "w-arm" {
		t.Fatalf("expected assignment to w-arm, got %+v", matches)
	}
}

func TestAssignPrefersSpareCapacity(t *testing.T) {
	d := dispatch.New(hclog.NewNullLogger(), nil)
	now := time.Now()

	matches := d.Assign(
		[]dispatch.Candidate{cand("j1", "x86_64")},
		[]registry.Snapshot{
			snap("w-busy", 4, 3, now, "x86_64"),
			snap("w-free", 4, 0, now, "x86_64"),
		},
	)
	if len(matches) != 1 || matches[0].WorkerID != "w-free" {
		t.Fatalf("expected w-free, got %+v", matches)
	}
}

func TestAssignTieBreaksOnIdleTime(t *testing.T) {
	d := dispatch.New(hclog.NewNullLogger(), nil)
	now := time.Now()

	matches := d.Assign(
		[]dispatch.Candidate{cand("j1", "x86_64")},
		[]registry.Snapshot{
			snap("w-recent", 2, 0, now, "x86_64"),
			snap("w-longidle", 2, 0, now.Add(-time.Hour), "x86_64"),
		},
	)
	if len(matches) != 1 || matches[0].WorkerID != "w-longidle" {
		t.Fatalf("expected longest-idle worker, got %+v", matches)
	}
}

func TestAssignRespectsCapacityWithinPass(t *testing.T) {
	d := dispatch.New(hclog.NewNullLogger(), nil)
	now := time.Now()

	matches := d.Assign(
		[]dispatch.Candidate{cand("j1", "x86_64"), cand("j2", "x86_64"), cand("j3", "x86_64")},
		[]registry.Snapshot{snap("w1", 2, 0, now, "x86_64")},
	)
	if len(matches) != 2 {
		t.Fatalf("a capacity-2 worker must take exactly 2 jobs, got %d", len(matches))
	}
}

func TestAssignLeavesUnmatchable(t *testing.T) {
	d := dispatch.New(hclog.NewNullLogger(), nil)
	now := time.Now()

	matches := d.Assign(
		[]dispatch.Candidate{cand("j1", "riscv64")},
		[]registry.Snapshot{snap("w1", 2, 0, now, "x86_64")},
	)
	if len(matches) != 0 {
		t.Fatalf("unmatchable candidate must stay unassigned, got %+v", matches)
	}
}

func TestAssignSpreadsLoad(t *testing.T) {
	d := dispatch.New(hclog.NewNullLogger(), nil)
	now := time.Now()

	matches := d.Assign(
		[]dispatch.Candidate{cand("j1", "x86_64"), cand("j2", "x86_64")},
		[]registry.Snapshot{
			snap("w1", 2, 0, now.Add(-time.Minute), "x86_64"),
			snap("w2", 2, 0, now, "x86_64"),
		},
	)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].WorkerID == matches[1].WorkerID {
		t.Fatalf("load balancing should split equal workers, got %+v", matches)
	}
}
