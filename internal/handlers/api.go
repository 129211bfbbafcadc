package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
)

type APIHandler struct {
	logger     arbor.ILogger
	instanceID string
	startedAt  time.Time
}

// NewAPIHandler creates the health and version handler. instanceID identifies this process.
func NewAPIHandler(instanceID string, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		logger:     logger,
		instanceID: instanceID,
		startedAt:  time.Now(),
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	info := common.GetVersionInfo()
	WriteJSON(w, http.StatusOK, map[string]string{
		"version":     info.Version,
		"build":       info.Build,
		"git_commit":  info.GitCommit,
		"instance_id": h.instanceID,
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
