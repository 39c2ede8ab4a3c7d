package main

import (
	"encoding/json"
	"net/http"

	"github.com/opentalon/agentrouter/internal/engine"
	"github.com/opentalon/agentrouter/internal/version"
)

func diagnosticsMux(eng *engine.Engine) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", eng.Metrics().Handler())
	mux.HandleFunc("GET /circuits", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, eng.Circuits())
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, version.Get())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
