package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"alttext/internal/infra"
	"alttext/internal/jobs"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrLimit    = errors.New("session limit reached")
	ErrClosed   = errors.New("registry closed")
)

const (
	defaultTTL         = 30 * time.Minute
	defaultMaxSessions = 1000
)

// Session is one caller-facing instance of the job lifecycle: a Poller and
// the bookkeeping needed to expire it.
type Session struct {
	ID        string
	CreatedAt time.Time
	Poller    *jobs.Poller

	mu       sync.Mutex
	lastSeen time.Time
}

// LastSeen reports the last time the session was created or looked up.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Touch marks the session as seen at now.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	s.mu.Unlock()
}

// Options configures a Registry. Poller is the template used for every new
// session's Poller.
type Options struct {
	Poller      jobs.Options
	TTL         time.Duration
	MaxSessions int
	Logger      *infra.Logger
	Now         func() time.Time
}

// Registry tracks live sessions by id.
type Registry struct {
	opts   Options
	logger *infra.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Poller.Client == nil {
		return nil, errors.New("session: poller client is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.Logger == nil {
		opts.Logger = infra.DiscardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Poller.Logger == nil {
		opts.Poller.Logger = opts.Logger
	}
	return &Registry{
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
		sessions: make(map[string]*Session),
	}, nil
}

// Create starts a new idle session.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if len(r.sessions) >= r.opts.MaxSessions {
		return nil, ErrLimit
	}

	poller, err := jobs.NewPoller(r.opts.Poller)
	if err != nil {
		return nil, fmt.Errorf("session: new poller: %w", err)
	}
	now := r.now()
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Poller:    poller,
		lastSeen:  now,
	}
	r.sessions[s.ID] = s
	r.logger.Debug().Str("session_id", s.ID).Int("sessions", len(r.sessions)).Msg("session: created")
	return s, nil
}

// Get returns the session and marks it as seen. Long-lived readers call
// Touch to keep it alive.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch(r.now())
	return s, nil
}

// Delete removes the session and stops its Poller.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Poller.Close()
	r.logger.Debug().Str("session_id", id).Msg("session: deleted")
	return nil
}

// Sweep closes sessions not seen within the TTL as of now, cancelling any job
// they still poll for.
func (r *Registry) Sweep(now time.Time) int {
	var expired []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.LastSeen()) < r.opts.TTL {
			continue
		}
		expired = append(expired, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Poller.Close()
	}
	if len(expired) > 0 {
		r.logger.Info().Int("expired", len(expired)).Msg("session: swept idle sessions")
	}
	return len(expired)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TTL is the idle lifetime applied by Sweep.
func (r *Registry) TTL() time.Duration { return r.opts.TTL }

// Close stops every session. Create fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Poller.Close()
		}(s)
	}
	wg.Wait()
}
