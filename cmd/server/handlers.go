package main

import (
	"encoding/json"
	"net/http"

	"github.com/darkden-lab/tracer/indexer/internal/db"
	"github.com/darkden-lab/tracer/indexer/internal/instance"
	"github.com/darkden-lab/tracer/indexer/internal/memory"
)

// healthResponse reports whether the core's own dependencies (today,
// just the metadata database) are reachable, not merely that the
// process is alive.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// statusResponse surfaces the MemoryArbiter's budgets and the size of
// the live instance set, the two numbers an operator needs to judge
// whether the core is keeping up or about to refuse fetches.
type statusResponse struct {
	Memory          memory.Snapshot `json:"memory"`
	ActiveInstances int             `json:"active_instances"`
}

func healthHandler(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := database.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "reachable"})
	}
}

func statusHandler(arbiter *memory.Arbiter, instances *instance.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Memory:          arbiter.Snapshot(),
			ActiveInstances: len(instances.All()),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
