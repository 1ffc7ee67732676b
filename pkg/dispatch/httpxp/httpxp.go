package httpxp

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/dispatch"
	"github.com/voidforge/foundry/pkg/types"
)

// httpTransport delivers assignment and abort messages by POSTing
// them to the endpoint each worker advertises in its heartbeats.
type httpTransport struct {
	l hclog.Logger
	c *http.Client
}

func init() {
	dispatch.RegisterInitCallback(cb)
}

func cb() {
	dispatch.RegisterTransportFactory("http", New)
}

// New returns a transport that speaks plain JSON over HTTP to
// workers.
func New(l hclog.Logger) (dispatch.Transport, error) {
	x := &httpTransport{
		l: l.Named("http"),
		c: &http.Client{Timeout: 30 * time.Second},
	}
	return x, nil
}

func (t *httpTransport) Send(m dispatch.Match) error {
	return t.post(m.Endpoint+"/assign", m.Assignment)
}

func (t *httpTransport) Abort(req types.AbortRequest, endpoint string) error {
	return t.post(endpoint+"/abort", req)
}

func (t *httpTransport) post(url string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	resp, err := t.c.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		t.l.Warn("Worker rejected message", "url", url, "status", resp.StatusCode)
		return errors.New("worker returned " + resp.Status)
	}
	return nil
}
