package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"alttext/internal/domain"
	"alttext/internal/infra"
)

// ErrClosed is returned by operations on a closed Poller.
var ErrClosed = errors.New("poller closed")

const (
	defaultInterval      = 2 * time.Second
	defaultCancelTimeout = 5 * time.Second
	maxBackoffFactor     = 8
)

// Options configures a Poller.
type Options struct {
	Client Client
	// Interval between status reads. The first read happens one interval
	// after the job was accepted.
	Interval time.Duration
	// MaxPolls fails the job with domain.ErrTimeout after that many pending
	// snapshots. Zero polls until the job resolves or is superseded.
	MaxPolls int
	// FetchRetries is the number of consecutive fetch failures tolerated
	// before the job fails. Retries back off exponentially from Interval.
	FetchRetries int
	// CancelRemote asks the service to stop a superseded job when the client
	// implements Canceler.
	CancelRemote  bool
	CancelTimeout time.Duration
	Scheduler     Scheduler
	Logger        *infra.Logger
}

// Update is one observable state of a Poller, delivered to listeners.
type Update struct {
	Phase      domain.Phase     `json:"phase"`
	Generation uint64           `json:"generation"`
	Input      string           `json:"input"`
	Handle     domain.JobHandle `json:"handle,omitempty"`
	domain.Status
}

// Equal reports whether both updates render the same.
func (u Update) Equal(other Update) bool {
	return u.Phase == other.Phase &&
		u.Generation == other.Generation &&
		u.Input == other.Input &&
		u.Handle == other.Handle &&
		u.Status.Equal(other.Status)
}

// Listener receives updates in transition order. It runs synchronously on
// the goroutine that caused the transition and must not call mutating
// Poller methods.
type Listener func(Update)

// Poller owns the lifecycle of at most one active job: submission, periodic
// status reads, terminal resolution and supersession. Every remote call is
// tagged with the generation active when it started; results for an older
// generation are dropped.
type Poller struct {
	opts   Options
	client Client
	sched  Scheduler
	logger *infra.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	state         domain.JobState
	input         string
	polls         int
	fetchFailures int
	timer         Timer
	jobCtx        context.Context
	jobCancel     context.CancelFunc
	closed        bool
	last          Update
	listeners     map[int]Listener
	nextListener  int

	done     chan struct{}
	current  atomic.Pointer[Update]
	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// NewPoller creates a Poller in the Idle phase.
func NewPoller(opts Options) (*Poller, error) {
	if opts.Client == nil {
		return nil, errors.New("poller: client is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MaxPolls < 0 || opts.FetchRetries < 0 {
		return nil, errors.New("poller: limits must not be negative")
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = defaultCancelTimeout
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler
	}
	if opts.Logger == nil {
		opts.Logger = infra.DiscardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		opts:       opts,
		client:     opts.Client,
		sched:      opts.Scheduler,
		logger:     opts.Logger,
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      domain.JobState{Phase: domain.PhaseIdle},
		listeners:  make(map[int]Listener),
		done:       make(chan struct{}),
	}
	initial := p.snapshotLocked()
	p.last = initial
	p.current.Store(&initial)
	return p, nil
}

// Status returns the latest state. It is safe to call from listeners.
func (p *Poller) Status() Update {
	return *p.current.Load()
}

// Subscribe registers l for every observable change. The returned function
// removes it; a transition already being delivered may still reach l once.
func (p *Poller) Subscribe(l Listener) func() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return func() {}
	}
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = l
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// RequestGeneration supersedes any active job and starts a new one for
// input. Invalid input fails immediately without a remote call; submission
// and polling continue asynchronously.
func (p *Poller) RequestGeneration(input string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	var updates []Update
	p.supersedeLocked()
	p.input = input
	p.state.Phase = domain.PhaseValidating
	p.recordLocked(&updates)

	req, err := domain.ValidateInput(input)
	if err != nil {
		p.failLocked(err, &updates)
		p.unlockAndNotify(updates)
		return nil
	}

	p.state.Phase = domain.PhaseSubmitting
	p.recordLocked(&updates)
	gen := p.state.Generation
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.jobCtx, p.jobCancel = ctx, cancel
	p.wg.Add(1)
	p.unlockAndNotify(updates)

	go p.submit(ctx, gen, req)
	return nil
}

// ResetForNewInput abandons any active job and returns to Idle, recording
// input as the current value. On an already idle Poller with the same input
// nothing is published.
func (p *Poller) ResetForNewInput(input string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	var updates []Update
	if p.state.Phase != domain.PhaseIdle {
		p.supersedeLocked()
	}
	p.input = input
	p.recordLocked(&updates)
	p.unlockAndNotify(updates)
	return nil
}

// Wait blocks until the Poller is no longer busy or ctx is done.
func (p *Poller) Wait(ctx context.Context) (Update, error) {
	ch := make(chan Update, 1)
	unsubscribe := p.Subscribe(func(u Update) {
		select {
		case <-ch:
		default:
		}
		ch <- u
	})
	defer unsubscribe()

	if u := p.Status(); !u.Busy {
		return u, nil
	}
	for {
		select {
		case u := <-ch:
			if !u.Busy {
				return u, nil
			}
		case <-ctx.Done():
			return p.Status(), ctx.Err()
		}
	}
}

// Done is closed when Close is called.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Close cancels in-flight work, stops the timer and waits for outstanding
// remote calls to return. It is safe to call more than once and must not be
// called from a listener.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.state.Phase != domain.PhaseIdle {
		p.supersedeLocked()
		idle := p.snapshotLocked()
		p.last = idle
		p.current.Store(&idle)
	}
	p.closed = true
	p.listeners = nil
	close(p.done)
	p.mu.Unlock()

	p.baseCancel()
	p.wg.Wait()
}

func (p *Poller) submit(ctx context.Context, gen uint64, req domain.JobRequest) {
	defer p.wg.Done()

	handle, err := p.client.Submit(ctx, req)

	p.mu.Lock()
	if p.staleLocked(gen) {
		p.mu.Unlock()
		p.logger.Debug().Uint64("generation", gen).Msg("poller: dropped stale submit result")
		return
	}
	var updates []Update
	if err != nil {
		p.failLocked(err, &updates)
	} else {
		p.state.Handle = handle
		p.state.Phase = domain.PhasePolling
		p.scheduleLocked(gen, p.opts.Interval)
		p.recordLocked(&updates)
		p.logger.Debug().
			Uint64("generation", gen).
			Str("handle", string(handle)).
			Msg("poller: job accepted")
	}
	p.unlockAndNotify(updates)
}

func (p *Poller) poll(gen uint64) {
	p.mu.Lock()
	if p.staleLocked(gen) || p.state.Phase != domain.PhasePolling {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	handle := p.state.Handle
	ctx := p.jobCtx
	if ctx == nil {
		ctx = p.baseCtx
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	snapshot, err := p.client.FetchStatus(ctx, handle)

	p.mu.Lock()
	if p.staleLocked(gen) {
		p.mu.Unlock()
		p.logger.Debug().Uint64("generation", gen).Msg("poller: dropped stale status")
		return
	}
	p.polls++
	var updates []Update
	switch {
	case err != nil:
		p.fetchFailures++
		if p.fetchFailures > p.opts.FetchRetries {
			p.failLocked(err, &updates)
			break
		}
		delay := backoff(p.opts.Interval, p.fetchFailures)
		p.logger.Warn().
			Err(err).
			Str("handle", string(handle)).
			Int("attempt", p.fetchFailures).
			Dur("retry_in", delay).
			Msg("poller: status fetch failed, retrying")
		p.scheduleLocked(gen, delay)
	case snapshot.Status == domain.SnapshotSucceeded:
		if strings.TrimSpace(snapshot.Output) == "" {
			p.failLocked(domain.ErrMalformedSuccess, &updates)
			break
		}
		p.succeedLocked(snapshot.Output, &updates)
	case snapshot.Status == domain.SnapshotFailed:
		p.failLocked(&domain.RemoteFailure{Reason: snapshot.Reason}, &updates)
	default:
		p.fetchFailures = 0
		if p.opts.MaxPolls > 0 && p.polls >= p.opts.MaxPolls {
			p.failLocked(fmt.Errorf("no result after %d polls: %w", p.polls, domain.ErrTimeout), &updates)
			break
		}
		p.scheduleLocked(gen, p.opts.Interval)
	}
	p.unlockAndNotify(updates)
}

func (p *Poller) staleLocked(gen uint64) bool {
	return p.closed || gen != p.state.Generation
}

func (p *Poller) scheduleLocked(gen uint64, delay time.Duration) {
	p.timer = p.sched.AfterFunc(delay, func() { p.poll(gen) })
}

// supersedeLocked invalidates the current generation and resets to Idle.
func (p *Poller) supersedeLocked() {
	prev := p.state
	p.stopLocked()
	if p.opts.CancelRemote && prev.Phase == domain.PhasePolling && prev.Handle != "" {
		if canceler, ok := p.client.(Canceler); ok {
			p.wg.Add(1)
			go p.cancelRemote(canceler, prev.Handle)
		}
	}
	if prev.Phase != domain.PhaseIdle {
		p.logger.Debug().
			Uint64("generation", prev.Generation).
			Str("phase", string(prev.Phase)).
			Msg("poller: job superseded")
	}
	p.state = domain.JobState{Phase: domain.PhaseIdle, Generation: prev.Generation + 1}
	p.polls = 0
	p.fetchFailures = 0
}

// stopLocked stops the timer and cancels outstanding calls. Safe when
// nothing is scheduled.
func (p *Poller) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.jobCancel != nil {
		p.jobCancel()
		p.jobCancel = nil
		p.jobCtx = nil
	}
}

func (p *Poller) cancelRemote(canceler Canceler, handle domain.JobHandle) {
	defer p.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.CancelTimeout)
	defer cancel()
	if err := canceler.Cancel(ctx, handle); err != nil {
		p.logger.Warn().Err(err).Str("handle", string(handle)).Msg("poller: remote cancel failed")
	}
}

func (p *Poller) succeedLocked(output string, updates *[]Update) {
	p.stopLocked()
	p.state.Phase = domain.PhaseSucceeded
	p.state.Result = output
	p.state.ErrorMessage = ""
	p.state.Err = nil
	p.recordLocked(updates)
	p.logger.Info().
		Uint64("generation", p.state.Generation).
		Str("handle", string(p.state.Handle)).
		Int("polls", p.polls).
		Msg("poller: job succeeded")
}

func (p *Poller) failLocked(err error, updates *[]Update) {
	p.stopLocked()
	p.state.Phase = domain.PhaseFailed
	p.state.Result = ""
	p.state.Err = err
	p.state.ErrorMessage = domain.FailureMessage(err)
	p.recordLocked(updates)
	p.logger.Info().
		Err(err).
		Uint64("generation", p.state.Generation).
		Str("handle", string(p.state.Handle)).
		Int("polls", p.polls).
		Msg("poller: job failed")
}

func (p *Poller) snapshotLocked() Update {
	return Update{
		Phase:      p.state.Phase,
		Generation: p.state.Generation,
		Input:      p.input,
		Handle:     p.state.Handle,
		Status:     domain.Project(p.state),
	}
}

// recordLocked queues the current state for delivery unless it renders the
// same as the last delivered one.
func (p *Poller) recordLocked(updates *[]Update) {
	u := p.snapshotLocked()
	if u.Equal(p.last) {
		return
	}
	p.last = u
	p.current.Store(&u)
	*updates = append(*updates, u)
}

// unlockAndNotify releases p.mu and delivers updates. notifyMu is taken
// before p.mu is released so deliveries keep transition order.
func (p *Poller) unlockAndNotify(updates []Update) {
	if len(updates) == 0 {
		p.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.notifyMu.Lock()
	p.mu.Unlock()
	defer p.notifyMu.Unlock()
	for _, u := range updates {
		for _, l := range listeners {
			l(u)
		}
	}
}

func backoff(interval time.Duration, attempt int) time.Duration {
	factor := 1
	for i := 1; i < attempt && factor < maxBackoffFactor; i++ {
		factor *= 2
	}
	return interval * time.Duration(factor)
}
