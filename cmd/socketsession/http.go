package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberinferno/go-sockets/server"
)

type healthResponse struct {
	Session        string `json:"session"`
	State          string `json:"state"`
	Addr           string `json:"addr"`
	Clients        int    `json:"clients"`
	MaxConnections int    `json:"max_connections"`
	ClientData     int    `json:"client_data"`
}

type clientResponse struct {
	ID     uint32 `json:"id"`
	Remote string `json:"remote"`
	Name   string `json:"name,omitempty"`
}

// newRouter serves the HTTP side channel of a running server: Prometheus
// metrics, a health check and the list of connected clients.
func newRouter(reg *prometheus.Registry, srv *server.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if !srv.IsActive() {
			status = http.StatusServiceUnavailable
		}

		stored, err := srv.ClientDataCount(r.Context())
		if err != nil {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, healthResponse{
			Session:        srv.ID(),
			State:          srv.State().String(),
			Addr:           srv.Addr(),
			Clients:        srv.ClientCount(),
			MaxConnections: srv.MaxConnections(),
			ClientData:     stored,
		})
	})

	r.Get("/clients", func(w http.ResponseWriter, r *http.Request) {
		out := []clientResponse{}
		for _, h := range srv.Clients() {
			c := clientResponse{ID: h.ID(), Remote: h.RemoteAddr()}
			if data, found, err := srv.ClientData(r.Context(), h.ID()); err == nil && found {
				c.Name = displayName(data)
			}
			out = append(out, c)
		}

		writeJSON(w, http.StatusOK, out)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
