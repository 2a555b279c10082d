package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alttext/internal/domain"
)

// fakeScheduler holds callbacks until the test fires them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending returns the delays of timers that neither fired nor were stopped.
func (s *fakeScheduler) Pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Duration
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}

// FireNext runs the oldest pending callback on the calling goroutine.
func (s *fakeScheduler) FireNext() bool {
	s.mu.Lock()
	var next *fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.fired = true
	s.mu.Unlock()
	next.f()
	return true
}

type fetchResult struct {
	snapshot domain.JobSnapshot
	err      error
}

// fakeClient replays scripted results. A handle without a script stays
// pending.
type fakeClient struct {
	mu          sync.Mutex
	submits     []domain.JobRequest
	fetches     []domain.JobHandle
	cancels     []domain.JobHandle
	submitFunc  func(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error)
	fetchFunc   func(ctx context.Context, handle domain.JobHandle) (domain.JobSnapshot, error)
	fetchScript map[domain.JobHandle][]fetchResult
}

func newFakeClient() *fakeClient {
	return &fakeClient{fetchScript: make(map[domain.JobHandle][]fetchResult)}
}

func (c *fakeClient) Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
	c.mu.Lock()
	c.submits = append(c.submits, req)
	fn := c.submitFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return "job-1", nil
}

func (c *fakeClient) FetchStatus(ctx context.Context, handle domain.JobHandle) (domain.JobSnapshot, error) {
	c.mu.Lock()
	c.fetches = append(c.fetches, handle)
	fn := c.fetchFunc
	var next *fetchResult
	if script := c.fetchScript[handle]; len(script) > 0 {
		next = &script[0]
		c.fetchScript[handle] = script[1:]
	}
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, handle)
	}
	if next == nil {
		return domain.JobSnapshot{Status: domain.SnapshotPending}, nil
	}
	return next.snapshot, next.err
}

func (c *fakeClient) script(handle domain.JobHandle, results ...fetchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchScript[handle] = append(c.fetchScript[handle], results...)
}

func (c *fakeClient) submitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.submits)
}

func (c *fakeClient) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fetches)
}

type cancelingClient struct {
	*fakeClient
}

func (c cancelingClient) Cancel(_ context.Context, handle domain.JobHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, handle)
	return nil
}

func pending() fetchResult {
	return fetchResult{snapshot: domain.JobSnapshot{Status: domain.SnapshotPending, RemoteStatus: "processing"}}
}

func succeeded(output string) fetchResult {
	return fetchResult{snapshot: domain.JobSnapshot{Status: domain.SnapshotSucceeded, Output: output, RemoteStatus: "succeeded"}}
}

// recorder collects every delivered update.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) listen(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recorder) phases() []domain.Phase {
	var out []domain.Phase
	for _, u := range r.all() {
		out = append(out, u.Phase)
	}
	return out
}

func newTestPoller(t *testing.T, client Client, mutate func(*Options)) (*Poller, *fakeScheduler) {
	t.Helper()
	sched := &fakeScheduler{}
	opts := Options{Client: client, Interval: 2 * time.Second, Scheduler: sched}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := NewPoller(opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, sched
}

func waitPhase(t *testing.T, p *Poller, phase domain.Phase) Update {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Status().Phase == phase
	}, 2*time.Second, time.Millisecond, "phase never reached %s (last %+v)", phase, p.Status())
	return p.Status()
}
