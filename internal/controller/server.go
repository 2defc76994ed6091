package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/config"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

const maxBodySize = 16 << 20

// New constructs the HTTP handler for the controller.
func New(cfg config.ControllerConfig, hub *Hub) http.Handler {
	r := chi.NewRouter()
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	preg := prometheus.NewRegistry()
	RegisterMetrics(preg)

	r.Get("/", hub.WSHandler(cfg.CORSOrigins))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/clients", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, hub.Clients())
		})
		ar.Post("/commands/{command}", commandHandler(hub))
	})
	if cfg.EnableMCP {
		r.Handle("/mcp", NewMCPHandler(hub))
	}
	return r
}

// commandHandler runs the named command with the request body as params and
// writes the page client's response unchanged.
func commandHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, protocol.Failure(nil, err.Error()))
			return
		}
		var params json.RawMessage
		if len(body) > 0 {
			if !json.Valid(body) {
				writeJSON(w, http.StatusBadRequest, protocol.Failure(nil, "params must be JSON"))
				return
			}
			params = body
		}
		resp, err := hub.Do(r.Context(), chi.URLParam(r, "command"), params)
		switch {
		case errors.Is(err, ErrNoClients):
			writeJSON(w, http.StatusServiceUnavailable, protocol.Failure(nil, NoClientsMessage))
		case errors.Is(err, ErrTimeout):
			writeJSON(w, http.StatusGatewayTimeout, protocol.Failure(nil, err.Error()))
		case err != nil:
			writeJSON(w, http.StatusBadGateway, protocol.Failure(nil, err.Error()))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(resp)
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
