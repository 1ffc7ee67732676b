package main

import (
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/client"
	"github.com/voidforge/foundry/pkg/types"
)

// A shim worker that registers against a running scheduler, accepts
// assignments and shells out to a build command for each one.  This
// exists to exercise the full protocol loop locally and is not a
// production build agent.
type shim struct {
	l hclog.Logger
	c *client.APIClient

	id  string
	cmd string

	mu      sync.Mutex
	ongoing map[string]struct{}
}

func main() {
	appLogger := hclog.New(&hclog.LoggerOptions{
		Name:  "foundry-worker",
		Level: hclog.LevelFromString("DEBUG"),
	})

	id := os.Getenv("FOUNDRY_WORKER_ID")
	if id == "" {
		id, _ = os.Hostname()
	}

	s := shim{
		l:       appLogger,
		c:       client.NewAPIClient(appLogger),
		id:      id,
		cmd:     os.Getenv("FOUNDRY_BUILD_CMD"),
		ongoing: make(map[string]struct{}),
	}
	s.c.Url = os.Getenv("FOUNDRY_URL")

	bind := os.Getenv("FOUNDRY_WORKER_BIND")
	if bind == "" {
		bind = ":8090"
	}
	capacity, _ := strconv.Atoi(os.Getenv("FOUNDRY_WORKER_CAPACITY"))
	if capacity == 0 {
		capacity = 1
	}
	tags := strings.Split(os.Getenv("FOUNDRY_WORKER_TAGS"), ",")

	r := chi.NewRouter()
	r.Post("/assign", s.httpAssign)
	r.Post("/abort", s.httpAbort)
	go http.ListenAndServe(bind, r)

	endpoint := os.Getenv("FOUNDRY_WORKER_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost" + bind
	}

	appLogger.Info("Worker announcing", "id", id, "capacity", capacity, "tags", tags)
	for {
		s.c.Heartbeat(types.Heartbeat{
			WorkerID: id,
			Endpoint: endpoint,
			Capacity: capacity,
			Tags:     tags,
		})
		time.Sleep(15 * time.Second)
	}
}

func (s *shim) httpAssign(w http.ResponseWriter, r *http.Request) {
	var a types.JobAssignment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.ongoing[a.JobID] = struct{}{}
	s.mu.Unlock()

	go s.build(a)
	w.WriteHeader(http.StatusAccepted)
}

func (s *shim) httpAbort(w http.ResponseWriter, r *http.Request) {
	var ab types.AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&ab); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	delete(s.ongoing, ab.JobID)
	s.mu.Unlock()

	s.c.Report(types.JobReport{JobID: ab.JobID, WorkerID: s.id, Kind: types.ReportAborted})
	w.WriteHeader(http.StatusNoContent)
}

func (s *shim) build(a types.JobAssignment) {
	s.l.Info("Building", "job", a.JobID, "project", a.Project)
	s.c.Report(types.JobReport{JobID: a.JobID, WorkerID: s.id, Kind: types.ReportStarted})

	var err error
	if s.cmd != "" {
		cmd := exec.Command(s.cmd, a.Project.Name, a.Project.Target)
		cmd.Env = append(os.Environ(), "FOUNDRY_INPUTS_REF="+a.InputsRef)
		err = cmd.Run()
	}

	s.mu.Lock()
	_, live := s.ongoing[a.JobID]
	delete(s.ongoing, a.JobID)
	s.mu.Unlock()
	if !live {
		// Aborted while the build ran; the abort report already
		// went out.
		return
	}

	if err != nil {
		s.l.Warn("Build failed", "job", a.JobID, "err", err)
		s.c.Report(types.JobReport{JobID: a.JobID, WorkerID: s.id, Kind: types.ReportFailed, Reason: err.Error()})
		return
	}
	s.c.Report(types.JobReport{JobID: a.JobID, WorkerID: s.id, Kind: types.ReportSucceeded})
}
