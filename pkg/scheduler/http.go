package scheduler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voidforge/foundry/pkg/graph"
	"github.com/voidforge/foundry/pkg/state"
	"github.com/voidforge/foundry/pkg/types"
)

// A SubmitRequest is the wire form of a group creation request.
type SubmitRequest struct {
	Target   string
	Projects []graph.ProjectSpec
}

// A GroupStatus is the wire form of a group state query response.
type GroupStatus struct {
	ID         string
	State      string
	Target     string
	CreatedAt  time.Time
	Jobs       map[string]string
	RootCauses []string
}

// A JobStatus is the wire form of a job state query response.
type JobStatus struct {
	ID           string
	GroupID      string
	Project      types.Project
	State        string
	WorkerID     string `json:",omitempty"`
	Retries      int
	FailReason   string `json:",omitempty"`
	CreatedAt    time.Time
	DispatchedAt *time.Time `json:",omitempty"`
	CompletedAt  *time.Time `json:",omitempty"`
}

// HTTPEntry provides the mountpoint for this service into the shared
// webserver routing tree.
func (s *Scheduler) HTTPEntry() chi.Router {
	r := chi.NewRouter()

	r.Post("/groups", s.httpSubmit)
	r.Get("/groups", s.httpListGroups)
	r.Get("/groups/{id}", s.httpGroupStatus)
	r.Post("/groups/{id}/cancel", s.httpCancel)
	r.Get("/jobs/{id}", s.httpJobStatus)

	return r
}

func (s *Scheduler) httpSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, err, http.StatusBadRequest)
		return
	}

	id, err := s.Submit(req.Target, req.Projects)
	if err != nil {
		// Validation failures are the caller's problem, not ours.
		var cycle graph.ErrCycle
		var dup graph.ErrDuplicateProject
		var unk graph.ErrUnknownDependency
		if errors.As(err, &cycle) || errors.As(err, &dup) || errors.As(err, &unk) {
			jsonError(w, err, http.StatusUnprocessableEntity)
			return
		}
		jsonError(w, err, http.StatusInternalServerError)
		return
	}

	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	enc.Encode(struct{ GroupID string }{id})
}

func (s *Scheduler) httpListGroups(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.GroupIDs()
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}

	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc.Encode(struct{ Groups []string }{ids})
}

func (s *Scheduler) httpGroupStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.GroupStatus(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, err, statusFor(err))
		return
	}

	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc.Encode(st)
}

func (s *Scheduler) httpJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.JobStatus(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, err, statusFor(err))
		return
	}

	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc.Encode(st)
}

func (s *Scheduler) httpCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(chi.URLParam(r, "id")); err != nil {
		jsonError(w, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GroupStatus answers a status query for one group.
func (s *Scheduler) GroupStatus(groupID string) (*GroupStatus, error) {
	g, err := s.store.GetGroup(groupID)
	if err != nil {
		return nil, err
	}

	out := &GroupStatus{
		ID:         g.ID,
		State:      g.State.String(),
		Target:     g.Target,
		CreatedAt:  g.CreatedAt,
		Jobs:       make(map[string]string, len(g.Jobs)),
		RootCauses: g.RootCauses(),
	}
	for id, j := range g.Jobs {
		out.Jobs[id] = j.State.String()
	}
	return out, nil
}

// JobStatus answers a status query for one job.
func (s *Scheduler) JobStatus(jobID string) (*JobStatus, error) {
	groupID, err := s.store.GroupForJob(jobID)
	if err != nil {
		return nil, err
	}
	g, err := s.store.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	j, err := g.Job(jobID)
	if err != nil {
		return nil, err
	}

	return &JobStatus{
		ID:           j.ID,
		GroupID:      j.GroupID,
		Project:      j.Project,
		State:        j.State.String(),
		WorkerID:     j.WorkerID,
		Retries:      j.Retries,
		FailReason:   j.FailReason,
		CreatedAt:    j.CreatedAt,
		DispatchedAt: j.DispatchedAt,
		CompletedAt:  j.CompletedAt,
	}, nil
}

func statusFor(err error) int {
	var nf state.ErrNotFound
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func jsonError(w http.ResponseWriter, err error, code int) {
	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	out := struct {
		Error string
	}{
		Error: err.Error(),
	}
	enc.Encode(out)
}
