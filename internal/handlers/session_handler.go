package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/services/automation"
)

// DrainGate keeps the queue from feeding the session while it is being changed
type DrainGate interface {
	WhileIdle(fn func() error) error
}

// SessionHandler controls the automation session lifecycle
type SessionHandler struct {
	session         interfaces.SessionService
	cookies         interfaces.CookieService
	drain           DrainGate
	eventService    interfaces.EventService
	defaultHeadless bool
	logger          arbor.ILogger
}

func NewSessionHandler(
	session interfaces.SessionService,
	cookies interfaces.CookieService,
	drain DrainGate,
	eventService interfaces.EventService,
	defaultHeadless bool,
	logger arbor.ILogger,
) *SessionHandler {
	return &SessionHandler{
		session:         session,
		cookies:         cookies,
		drain:           drain,
		eventService:    eventService,
		defaultHeadless: defaultHeadless,
		logger:          logger,
	}
}

// InitializeRequest is the body of POST /api/session
type InitializeRequest struct {
	Headless *bool `json:"headless"`
}

// SessionStatus is returned by the session endpoints
type SessionStatus struct {
	Ready         bool   `json:"ready"`
	URL           string `json:"url,omitempty"`
	Authenticated *bool  `json:"authenticated,omitempty"`
}

// SessionHandler routes /api/session
func (h *SessionHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.status(w, r)
	case http.MethodPost:
		h.initialize(w, r)
	case http.MethodDelete:
		h.teardown(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionHandler) status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, SessionStatus{
		Ready: h.session.IsReady(),
		URL:   h.session.CurrentURL(r.Context()),
	})
}

func (h *SessionHandler) initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	headless := h.defaultHeadless
	if req.Headless != nil {
		headless = *req.Headless
	}

	set := h.cookies.Current()
	if set.Len() == 0 {
		WriteError(w, http.StatusBadRequest, "no cookies imported")
		return
	}
	if !set.IsValid(time.Now()) {
		WriteError(w, http.StatusBadRequest, "all imported cookies have expired")
		return
	}

	err := h.whileIdle(func() error {
		return h.session.Initialize(r.Context(), set, headless)
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, interfaces.ErrQueueDraining):
			WriteError(w, http.StatusConflict, "queue is processing; pause it and wait for the current item before re-initializing")
			return
		case errors.Is(err, automation.ErrLaunchFailed):
			status = http.StatusBadGateway
			h.publishSystemError(r, err)
		}
		WriteError(w, status, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, SessionStatus{Ready: true, URL: h.session.CurrentURL(r.Context())})
}

func (h *SessionHandler) teardown(w http.ResponseWriter, r *http.Request) {
	err := h.whileIdle(func() error {
		h.session.Teardown()
		return nil
	})
	if err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteSuccess(w, "session closed")
}

// VerifyHandler handles POST /api/session/verify
func (h *SessionHandler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.session.IsReady() {
		WriteError(w, http.StatusConflict, automation.ErrNotInitialized.Error())
		return
	}
	var authenticated bool
	err := h.whileIdle(func() error {
		authenticated = h.session.VerifyAuthenticated(r.Context())
		return nil
	})
	if err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, SessionStatus{
		Ready:         true,
		URL:           h.session.CurrentURL(r.Context()),
		Authenticated: &authenticated,
	})
}

// whileIdle runs fn with the drain loop held off
func (h *SessionHandler) whileIdle(fn func() error) error {
	if h.drain == nil {
		return fn()
	}
	return h.drain.WhileIdle(fn)
}

func (h *SessionHandler) publishSystemError(r *http.Request, err error) {
	if h.eventService == nil {
		return
	}
	if pubErr := h.eventService.Publish(r.Context(), interfaces.Event{
		Type:    interfaces.EventSystemError,
		Payload: interfaces.SystemError{Source: "session", Message: err.Error()},
	}); pubErr != nil {
		h.logger.Warn().Err(pubErr).Msg("Failed to publish system error")
	}
}
