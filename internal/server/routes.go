// -----------------------------------------------------------------------
// Last Modified: Wednesday, 14th October 2026 9:42:02 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Cookies (session credential)
	mux.HandleFunc("/api/cookies", s.app.CookieHandler.CookiesHandler) // GET status, POST import, DELETE clear

	// API routes - Automation session
	mux.HandleFunc("/api/session", s.app.SessionHandler.SessionHandler)       // GET status, POST initialize, DELETE teardown
	mux.HandleFunc("/api/session/verify", s.app.SessionHandler.VerifyHandler) // POST

	// API routes - Generation queue
	mux.HandleFunc("/api/queue", s.app.QueueHandler.StatusHandler)              // GET
	mux.HandleFunc("/api/queue/prompts", s.app.QueueHandler.AddPromptsHandler) // POST
	mux.HandleFunc("/api/queue/", s.app.QueueHandler.ActionHandler)            // POST /{action}, /items/{id}/retry

	// API routes - Downloads
	mux.HandleFunc("/api/downloads", s.app.DownloadHandler.DownloadsHandler) // GET list, POST enqueue
	mux.HandleFunc("/api/downloads/", s.app.DownloadHandler.DownloadHandler) // DELETE /{id}

	// API routes - Chat relay
	mux.HandleFunc("/api/chat", s.app.ChatHandler.ChatHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	// 404 handler for unmatched API routes
	mux.HandleFunc("/", RouteByMethod(MethodRouter{
		http.MethodGet: s.handleRoot,
	}, s.app.APIHandler.NotFoundHandler))

	return mux
}

// handleRoot answers the bare root with the route index; everything else is a 404
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	writeIndex(w)
}
