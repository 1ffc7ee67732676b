package nomad

import (
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/nomad/api"

	"github.com/voidforge/foundry/pkg/dispatch"
	"github.com/voidforge/foundry/pkg/types"
)

// nomadTransport delivers assignments by dispatching a parameterized
// batch job per build.  Workers running under Nomad report back over
// the normal report endpoint; the worker identity travels in the job
// meta so reports land against the right registry entry.
type nomadTransport struct {
	l hclog.Logger
	c *api.Client

	parent    string
	reportURL string
}

func init() {
	dispatch.RegisterInitCallback(cb)
}

func cb() {
	dispatch.RegisterTransportFactory("nomad", New)
}

// New returns a wrapper around a nomad client that implements the
// dispatcher's Transport interface.
func New(l hclog.Logger) (dispatch.Transport, error) {
	c, err := api.NewClient(api.DefaultConfig())
	if err != nil {
		return nil, err
	}

	parent := os.Getenv("FOUNDRY_NOMAD_JOB")
	if parent == "" {
		parent = "foundry-build"
	}

	x := &nomadTransport{
		l:         l.Named("nomad"),
		c:         c,
		parent:    parent,
		reportURL: os.Getenv("FOUNDRY_REPORT_URL"),
	}
	return x, nil
}

func (n *nomadTransport) Send(m dispatch.Match) error {
	meta := map[string]string{
		"job_id":     m.Assignment.JobID,
		"group_id":   m.Assignment.GroupID,
		"project":    m.Assignment.Project.Name,
		"target":     m.Assignment.Project.Target,
		"inputs_ref": m.Assignment.InputsRef,
		"worker_id":  m.WorkerID,
		"report_url": n.reportURL,
	}

	res, _, err := n.c.Jobs().Dispatch(n.parent, meta, nil, nil)
	if err != nil {
		n.l.Warn("Nomad error", "error", err)
		return err
	}
	n.l.Debug("Dispatched job", "job", m.Assignment.JobID, "eval", res.EvalID, "jid", res.DispatchedJobID)
	return nil
}

// Abort looks up the dispatched batch job carrying this build and
// deregisters it.  Best effort only.
func (n *nomadTransport) Abort(req types.AbortRequest, _ string) error {
	qopts := &api.QueryOptions{
		Prefix: n.parent + "/dispatch-",
	}
	jobs, _, err := n.c.Jobs().List(qopts)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		info, _, err := n.c.Jobs().Info(job.ID, nil)
		if err != nil {
			continue
		}
		if info.Meta["job_id"] != req.JobID {
			continue
		}
		if _, _, err := n.c.Jobs().Deregister(job.ID, false, nil); err != nil {
			n.l.Warn("Unable to deregister build", "job", req.JobID, "jid", job.ID, "error", err)
			return err
		}
		n.l.Debug("Aborted build", "job", req.JobID, "jid", job.ID)
		return nil
	}
	return nil
}
