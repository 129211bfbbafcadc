package server

import (
	"encoding/json"
	"net/http"
)

// MethodRouter maps HTTP methods to handlers
type MethodRouter map[string]http.HandlerFunc

// RouteByMethod dispatches on the request method, falling back to fallback for unknown methods
func RouteByMethod(routes MethodRouter, fallback http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := routes[r.Method]; ok {
			handler(w, r)
			return
		}
		if fallback != nil {
			fallback(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// routeIndex is served at / so a bare GET shows what the server exposes
var routeIndex = []string{
	"GET /api/health",
	"GET /api/version",
	"GET /metrics",
	"GET|POST|DELETE /api/cookies",
	"GET|POST|DELETE /api/session",
	"POST /api/session/verify",
	"GET /api/queue",
	"POST /api/queue/prompts",
	"POST /api/queue/{start|pause|resume|retry-failed|clear-completed|clear-all}",
	"GET /api/queue/items/{id}",
	"POST /api/queue/items/{id}/retry",
	"GET|POST /api/downloads",
	"DELETE /api/downloads/{id}",
	"POST /api/chat",
	"GET /ws",
}

func writeIndex(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"name":   "flowqueue",
		"routes": routeIndex,
	})
}
