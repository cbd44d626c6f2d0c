// Package httpapi exposes the gateway's resilience/routing core over a
// versioned /api/v1 surface: a fixed route table on the standard mux,
// wrapped in a recovery/logging/auth/rate-limit middleware chain. There
// is no database behind it — handlers dispatch straight onto the router,
// breaker registry, health monitor, and reload manager.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the JSON error envelope every failed request carries:
// {kind, message, provider?, details?}.
type errorResponse struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
	Details  string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Kind: kind, Message: message})
}

func writeProviderError(w http.ResponseWriter, status int, kind, provider, message string) {
	writeJSON(w, status, errorResponse{Kind: kind, Provider: provider, Message: message})
}
