package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
)

// CookieHandler imports and reports the session credential
type CookieHandler struct {
	cookies interfaces.CookieService
	logger  arbor.ILogger
}

func NewCookieHandler(cookies interfaces.CookieService, logger arbor.ILogger) *CookieHandler {
	return &CookieHandler{cookies: cookies, logger: logger}
}

// CookiesHandler routes /api/cookies.
// POST takes the raw cookie export JSON as the body.
func (h *CookieHandler) CookiesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, http.StatusOK, h.cookies.Status())
	case http.MethodPost:
		data, err := ReadBody(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := h.cookies.Import(r.Context(), data); err != nil {
			h.logger.Warn().Err(err).Msg("Cookie import rejected")
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, h.cookies.Status())
	case http.MethodDelete:
		if err := h.cookies.Clear(r.Context()); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteSuccess(w, "cookies cleared")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
