package bridge

import (
	"context"
	"encoding/json"
	"net/http"
)

// StartStatusServer starts an HTTP server exposing /status and /version for m.
// It returns the address it is listening on.
func StartStatusServer(ctx context.Context, addr string, m *Manager) (string, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetVersionInfo())
	})
	return serve(ctx, addr, mux, "status server error")
}
