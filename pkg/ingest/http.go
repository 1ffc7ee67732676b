package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HTTPEntry provides the chi mountpoint for the worker protocol into
// the routing tree.
func (i *Ingestor) HTTPEntry() chi.Router {
	r := chi.NewRouter()

	r.Post("/report", i.httpReport)
	r.Post("/heartbeat", i.httpHeartbeat)

	return r
}

func (i *Ingestor) httpReport(w http.ResponseWriter, req *http.Request) {
	var rep reportDTO
	if err := json.NewDecoder(req.Body).Decode(&rep); err != nil {
		i.httpJSONError(w, err, http.StatusBadRequest)
		return
	}

	if err := i.Submit(rep.asReport()); err != nil {
		i.httpJSONError(w, err, http.StatusServiceUnavailable)
		return
	}
	// Accepted for ordered processing; application happens async.
	w.WriteHeader(http.StatusAccepted)
}

func (i *Ingestor) httpHeartbeat(w http.ResponseWriter, req *http.Request) {
	var hb heartbeatDTO
	if err := json.NewDecoder(req.Body).Decode(&hb); err != nil {
		i.httpJSONError(w, err, http.StatusBadRequest)
		return
	}

	if err := i.Heartbeat(hb.asHeartbeat()); err != nil {
		i.httpJSONError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (i *Ingestor) httpJSONError(w http.ResponseWriter, err error, code int) {
	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	out := struct {
		Error string
	}{
		Error: err.Error(),
	}
	if err := enc.Encode(out); err != nil {
		i.l.Warn("Error encoding JSON error response")
	}
}
