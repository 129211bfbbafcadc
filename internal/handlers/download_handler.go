package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/services/downloader"
)

// DownloadHandler starts and tracks extractor downloads
type DownloadHandler struct {
	downloads interfaces.DownloadService
	logger    arbor.ILogger
}

func NewDownloadHandler(downloads interfaces.DownloadService, logger arbor.ILogger) *DownloadHandler {
	return &DownloadHandler{downloads: downloads, logger: logger}
}

type downloadRequest struct {
	URL string `json:"url"`
}

// DownloadsHandler routes /api/downloads
func (h *DownloadHandler) DownloadsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, http.StatusOK, h.downloads.List())
	case http.MethodPost:
		var req downloadRequest
		if err := DecodeJSON(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		item, err := h.downloads.Enqueue(r.Context(), req.URL)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, downloader.ErrInvalidURL) {
				status = http.StatusBadRequest
			}
			WriteError(w, status, err.Error())
			return
		}
		WriteJSON(w, http.StatusAccepted, item)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// DownloadHandler handles DELETE /api/downloads/{id}, which cancels a running download
func (h *DownloadHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	segments := PathSegments(r.URL.Path, "/api/downloads/")
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "download id required")
		return
	}
	if !h.downloads.Cancel(segments[0]) {
		WriteError(w, http.StatusNotFound, "no running download with id "+segments[0])
		return
	}
	WriteSuccess(w, "download cancelled")
}
