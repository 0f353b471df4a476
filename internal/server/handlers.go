package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/gofpa/internal/core"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// PluginsHandler lists plugin summaries, or one plugin with ?id=.
func PluginsHandler(registry *core.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body any = registry.Summaries()
		if id := r.URL.Query().Get("id"); id != "" {
			summary, ok := registry.Describe(id)
			if !ok {
				http.NotFound(w, r)
				return
			}
			body = summary
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}

// NewMux builds the HTTP routes served by the daemon.
func NewMux(registry *core.Registry, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.Handle("/metrics", metrics)
	mux.Handle("/plugins", PluginsHandler(registry))
	return mux
}
