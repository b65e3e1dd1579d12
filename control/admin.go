// File: control/admin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus is the payload served by the health endpoint.
type HealthStatus struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// HealthSource reports the live state the health endpoint publishes.
type HealthSource func() HealthStatus

// NewAdminHandler builds the admin router. It serves Prometheus metrics
// from gatherer on /metrics and a JSON health snapshot on /healthz. The
// admin surface binds to its own listener, never the relay port.
func NewAdminHandler(gatherer prometheus.Gatherer, health HealthSource) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		st := health()
		if st.Status == "" {
			st.Status = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
