package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"alttext/internal/domain"
	"alttext/internal/jobs"
	"alttext/internal/middleware"
	"alttext/internal/session"
)

const maxBodyBytes = 16 << 10

type sessionResponse struct {
	ID         string           `json:"id"`
	Phase      domain.Phase     `json:"phase"`
	Generation uint64           `json:"generation"`
	Input      string           `json:"input"`
	Handle     domain.JobHandle `json:"handle,omitempty"`
	Busy       bool             `json:"busy"`
	Result     *string          `json:"result"`
	Error      *string          `json:"error"`
	Notice     string           `json:"notice,omitempty"`
}

type inputRequest struct {
	Input *string `json:"input"`
}

func newSessionResponse(r *http.Request, id string, u jobs.Update) sessionResponse {
	resp := sessionResponse{
		ID:         id,
		Phase:      u.Phase,
		Generation: u.Generation,
		Input:      u.Input,
		Handle:     u.Handle,
		Busy:       u.Busy,
		Result:     u.Result,
		Error:      u.Error,
	}
	if u.Phase == domain.PhaseSucceeded {
		resp.Notice = middleware.T(r.Context(), middleware.MsgGenerated)
	}
	return resp
}

func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Create()
	if err != nil {
		if errors.Is(err, session.ErrLimit) || errors.Is(err, session.ErrClosed) {
			a.error(w, r, http.StatusServiceUnavailable, "session_limit", middleware.MsgSessionLimit)
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("api: create session failed")
		a.error(w, r, http.StatusInternalServerError, "internal", middleware.MsgInternal)
		return
	}
	a.json(w, http.StatusCreated, newSessionResponse(r, s.ID, s.Poller.Status()))
}

func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, newSessionResponse(r, s.ID, s.Poller.Status()))
}

// SetInput records a new input value, abandoning any job for the previous one.
func (a *App) SetInput(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	req, err := decodeInput(w, r)
	if err != nil || req.Input == nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", middleware.MsgInvalidBody)
		return
	}
	if err := s.Poller.ResetForNewInput(*req.Input); err != nil {
		a.sessionGone(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newSessionResponse(r, s.ID, s.Poller.Status()))
}

// Generate starts a job for the body's input, or the session's current input
// when the body omits it.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	req, err := decodeInput(w, r)
	if err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", middleware.MsgInvalidBody)
		return
	}
	input := s.Poller.Status().Input
	if req.Input != nil {
		input = *req.Input
	}
	if err := s.Poller.RequestGeneration(input); err != nil {
		a.sessionGone(w, r, err)
		return
	}
	status := s.Poller.Status()
	zerolog.Ctx(r.Context()).Debug().
		Str("session_id", s.ID).
		Uint64("generation", status.Generation).
		Str("phase", string(status.Phase)).
		Msg("api: generation requested")
	a.json(w, http.StatusAccepted, newSessionResponse(r, s.ID, status))
}

func (a *App) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
		a.error(w, r, http.StatusNotFound, "not_found", middleware.MsgSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, r, http.StatusNotFound, "not_found", middleware.MsgSessionNotFound)
		return nil, false
	}
	return s, true
}

// sessionGone handles a session removed between lookup and use.
func (a *App) sessionGone(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, jobs.ErrClosed) {
		a.error(w, r, http.StatusNotFound, "not_found", middleware.MsgSessionNotFound)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("api: session update failed")
	a.error(w, r, http.StatusInternalServerError, "internal", middleware.MsgInternal)
}

// decodeInput reads an optional {"input": ...} body.
func decodeInput(w http.ResponseWriter, r *http.Request) (inputRequest, error) {
	var req inputRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}
