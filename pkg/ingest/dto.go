package ingest

import (
	"github.com/voidforge/foundry/pkg/types"
)

// Wire forms for the worker protocol.  Kept separate from the
// internal message types so the external field names stay stable.
type reportDTO struct {
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason,omitempty"`
}

func (d reportDTO) asReport() types.JobReport {
	return types.JobReport{
		JobID:    d.JobID,
		WorkerID: d.WorkerID,
		Kind:     types.ReportKind(d.Kind),
		Reason:   d.Reason,
	}
}

type heartbeatDTO struct {
	WorkerID string   `json:"worker_id"`
	Endpoint string   `json:"endpoint"`
	Capacity int      `json:"capacity"`
	Tags     []string `json:"tags"`
}

func (d heartbeatDTO) asHeartbeat() types.Heartbeat {
	return types.Heartbeat{
		WorkerID: d.WorkerID,
		Endpoint: d.Endpoint,
		Capacity: d.Capacity,
		Tags:     d.Tags,
	}
}
