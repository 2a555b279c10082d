package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"alttext/internal/jobs"
	"alttext/internal/middleware"
)

const eventBuffer = 16

// Events streams session updates as server-sent events. The current state is
// sent first; the stream ends when the client goes away or the session is
// deleted.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	s, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, r, http.StatusInternalServerError, "internal", middleware.MsgInternal)
		return
	}

	updates := make(chan jobs.Update, eventBuffer)
	unsubscribe := s.Poller.Subscribe(func(u jobs.Update) {
		// Never block the poller: drop the oldest queued update instead.
		for {
			select {
			case updates <- u:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := zerolog.Ctx(r.Context())
	var seq int
	last := s.Poller.Status()
	send := func(u jobs.Update) bool {
		seq++
		if err := writeEvent(w, seq, newSessionResponse(r, s.ID, u)); err != nil {
			logger.Debug().Err(err).Str("session_id", s.ID).Msg("api: event stream write failed")
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(last) {
		return
	}

	keepAlive := a.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.Poller.Done():
			return
		case u := <-updates:
			if u.Equal(last) {
				continue
			}
			last = u
			s.Touch(a.Now())
			if !send(u) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, seq int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: status\ndata: %s\n\n", seq, data)
	return err
}
