package api

import (
	"encoding/json"
	"net/http"
)

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]string)
	allHealthy := true
	for _, p := range h.registry.Profiles() {
		if p.Healthy() {
			providers[p.ID] = "ok"
		} else {
			providers[p.ID] = "unhealthy"
			allHealthy = false
		}
	}

	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}

	resp := map[string]any{
		"status":    status,
		"providers": providers,
	}
	if h.health != nil {
		resp["breakers"] = h.health.States(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readiness only needs the routing side to be loaded; provider health is a
// degraded state, not a readiness failure.
func (h *Handler) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

type modelEntry struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Provider string `json:"provider"`
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	var models []modelEntry
	for _, p := range h.registry.Profiles() {
		for _, m := range p.Models {
			models = append(models, modelEntry{ID: m, Object: "model", Provider: p.ID})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   models,
	})
}
