package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"alttext/internal/infra"
	"alttext/internal/middleware"
	"alttext/internal/session"
)

const defaultKeepAlive = 15 * time.Second

type App struct {
	Sessions *session.Registry
	Logger   *infra.Logger
	// KeepAlive is the comment interval on idle event streams.
	KeepAlive time.Duration
	Now       func() time.Time
}

func NewApp(sessions *session.Registry, logger *infra.Logger) *App {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &App{
		Sessions:  sessions,
		Logger:    logger,
		KeepAlive: defaultKeepAlive,
		Now:       time.Now,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes the standard error body with message translated for the
// request locale.
func (a *App) error(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: middleware.T(r.Context(), message)})
}
