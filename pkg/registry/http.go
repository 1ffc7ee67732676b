package registry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HTTPEntry provides the mountpoint for this service into the shared
// webserver routing tree.
func (r *Registry) HTTPEntry() chi.Router {
	router := chi.NewRouter()
	router.Get("/workers", r.httpListWorkers)
	return router
}

func (r *Registry) httpListWorkers(w http.ResponseWriter, req *http.Request) {
	enc := json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc.Encode(struct{ Workers []Snapshot }{r.Snapshots()})
}
