package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/types"
)

// APIClient speaks the worker side of the scheduler protocol:
// periodic heartbeats out, job reports back.  Assignment delivery
// happens in the other direction, to the endpoint the worker
// advertises.
type APIClient struct {
	l       hclog.Logger
	hClient *http.Client

	// Url is the host:port of the scheduler.
	Url string
}

// NewAPIClient creates a new API client.
func NewAPIClient(l hclog.Logger) *APIClient {
	x := APIClient{
		l:       l.Named("client"),
		hClient: &http.Client{Timeout: 30 * time.Second},
	}
	return &x
}

// Heartbeat announces liveness, capacity and tags.  The first
// heartbeat registers the worker.
func (c *APIClient) Heartbeat(hb types.Heartbeat) bool {
	payload := struct {
		WorkerID string   `json:"worker_id"`
		Endpoint string   `json:"endpoint"`
		Capacity int      `json:"capacity"`
		Tags     []string `json:"tags"`
	}{hb.WorkerID, hb.Endpoint, hb.Capacity, hb.Tags}
	return c.post("/heartbeat", payload)
}

// Report sends one job report.  Delivery is at-least-once: callers
// may retry freely, the scheduler drops duplicates.
func (c *APIClient) Report(rep types.JobReport) bool {
	payload := struct {
		JobID    string `json:"job_id"`
		WorkerID string `json:"worker_id"`
		Kind     string `json:"kind"`
		Reason   string `json:"reason,omitempty"`
	}{rep.JobID, rep.WorkerID, string(rep.Kind), rep.Reason}
	return c.post("/report", payload)
}

// General function to deliver a message to the scheduler.
func (c *APIClient) post(endpoint string, v interface{}) bool {
	if c.Url == "" {
		c.l.Warn("Url not set for API", "endpoint", endpoint)
		return false
	}

	body, err := json.Marshal(v)
	if err != nil {
		c.l.Warn("Unable to encode payload", "endpoint", endpoint, "err", err)
		return false
	}

	fullUrl := "http://" + c.Url + "/api/workers" + endpoint
	resp, err := c.hClient.Post(fullUrl, "application/json", bytes.NewReader(body))
	if err != nil {
		c.l.Warn("Unable to send to API", "endpoint", endpoint, "err", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.l.Warn("API refused message", "endpoint", endpoint, "status", resp.StatusCode)
		return false
	}
	return true
}
