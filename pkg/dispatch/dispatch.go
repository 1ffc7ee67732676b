package dispatch

import (
	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/registry"
	"github.com/voidforge/foundry/pkg/types"
)

// New returns a dispatcher delivering assignments via the given
// transport.
func New(l hclog.Logger, t Transport) *Dispatcher {
	return &Dispatcher{
		l:         l.Named("dispatch"),
		transport: t,
	}
}

// Assign matches candidates to workers.  A worker is eligible for a
// candidate when its tags are a superset of the candidate's required
// tags and it has room below its declared capacity.  Among eligible
// workers the one with the most spare capacity wins; exact ties go to
// the worker that has been idle longest.  Candidates with no eligible
// worker are simply skipped: they stay ready and are offered again on
// the next pass.
func (d *Dispatcher) Assign(cands []Candidate, workers []registry.Snapshot) []Match {
	pool := make([]*matcher, 0, len(workers))
	for _, w := range workers {
		pool = append(pool, &matcher{snap: w, load: w.Load})
	}

	var out []Match
	for _, c := range cands {
		var best *matcher
		for _, m := range pool {
			if m.load >= m.snap.Capacity {
				continue
			}
			if !hasTags(m.snap.Tags, c.RequiredTags) {
				continue
			}
			if best == nil || better(m, best) {
				best = m
			}
		}
		if best == nil {
			d.l.Trace("No worker for candidate", "job", c.Assignment.JobID, "tags", c.RequiredTags)
			continue
		}
		best.load++
		out = append(out, Match{
			Assignment: c.Assignment,
			WorkerID:   best.snap.ID,
			Endpoint:   best.snap.Endpoint,
		})
	}
	return out
}

// Send hands a match to the transport.
func (d *Dispatcher) Send(m Match) error {
	if err := d.transport.Send(m); err != nil {
		d.l.Warn("Unable to deliver assignment", "job", m.Assignment.JobID, "worker", m.WorkerID, "error", err)
		return err
	}
	d.l.Debug("Dispatched", "job", m.Assignment.JobID, "worker", m.WorkerID)
	return nil
}

// Abort asks a worker to stop a job, best effort.  Failures are
// logged and swallowed: scheduler bookkeeping must not depend on
// cooperative workers.
func (d *Dispatcher) Abort(req types.AbortRequest, endpoint string) {
	if err := d.transport.Abort(req, endpoint); err != nil {
		d.l.Debug("Abort message not delivered", "job", req.JobID, "worker", req.WorkerID, "error", err)
	}
}

// better reports whether a should be preferred over b.
func better(a, b *matcher) bool {
	spareA := a.snap.Capacity - a.load
	spareB := b.snap.Capacity - b.load
	if spareA != spareB {
		return spareA > spareB
	}
	return a.snap.IdleSince.Before(b.snap.IdleSince)
}

// hasTags reports whether the worker tags cover every required tag.
func hasTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
