package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"alttext/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInvalidInputFailsWithoutRemoteCalls(t *testing.T) {
	inputs := []string{"not a url", "", "   ", "example.com/cat.jpg", "/cat.jpg", "https://", "mailto:cat@example.com"}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			client := newFakeClient()
			p, sched := newTestPoller(t, client, nil)

			require.NoError(t, p.RequestGeneration(input))

			got := p.Status()
			require.Equal(t, domain.PhaseFailed, got.Phase)
			require.False(t, got.Busy)
			require.Nil(t, got.Result)
			require.NotNil(t, got.Error)
			require.Equal(t, "Please enter a valid URL.", *got.Error)
			require.Zero(t, client.submitCount())
			require.Zero(t, client.fetchCount())
			require.Empty(t, sched.Pending())
		})
	}
}

func TestSubmitErrorKeepsRemoteMessage(t *testing.T) {
	client := newFakeClient()
	remoteBody := `{"detail":"You have reached the free time limit."}`
	client.submitFunc = func(context.Context, domain.JobRequest) (domain.JobHandle, error) {
		return "", &domain.SubmitError{StatusCode: 402, Cause: remoteBody}
	}
	p, sched := newTestPoller(t, client, nil)

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	got := waitPhase(t, p, domain.PhaseFailed)

	require.NotNil(t, got.Error)
	require.Equal(t, remoteBody, *got.Error)
	require.Nil(t, got.Result)
	require.Empty(t, sched.Pending())
	require.Zero(t, client.fetchCount())
}

func TestCatScenario(t *testing.T) {
	client := newFakeClient()
	client.script("job-1", pending(), pending(), succeeded("A cat sitting on a windowsill."))
	p, sched := newTestPoller(t, client, nil)
	rec := &recorder{}
	defer p.Subscribe(rec.listen)()

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	polling := waitPhase(t, p, domain.PhasePolling)
	require.Equal(t, domain.JobHandle("job-1"), polling.Handle)
	require.True(t, polling.Busy)

	// first poll waits one full interval
	require.Equal(t, []time.Duration{2 * time.Second}, sched.Pending())
	require.Zero(t, client.fetchCount())

	for i := 0; i < 3; i++ {
		require.True(t, sched.FireNext(), "poll %d not scheduled", i+1)
	}

	final := p.Status()
	require.Equal(t, domain.PhaseSucceeded, final.Phase)
	require.False(t, final.Busy)
	require.NotNil(t, final.Result)
	require.Equal(t, "A cat sitting on a windowsill.", *final.Result)
	require.Nil(t, final.Error)
	require.Equal(t, 3, client.fetchCount())
	require.Empty(t, sched.Pending(), "no poll after resolution")

	require.Equal(t, []domain.Phase{
		domain.PhaseValidating,
		domain.PhaseSubmitting,
		domain.PhasePolling,
		domain.PhaseSucceeded,
	}, rec.phases())
}

func TestResolvesOnceOnFirstTerminalSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		results []fetchResult
		phase   domain.Phase
		message string
	}{
		{
			name:    "remote failure",
			results: []fetchResult{pending(), {snapshot: domain.JobSnapshot{Status: domain.SnapshotFailed, Reason: "model crashed"}}, succeeded("late")},
			phase:   domain.PhaseFailed,
			message: "model crashed",
		},
		{
			name:    "fetch error terminates by default",
			results: []fetchResult{pending(), {err: &domain.FetchError{Err: errors.New("connection reset")}}, succeeded("late")},
			phase:   domain.PhaseFailed,
			message: "fetch status: connection reset",
		},
		{
			name:    "malformed success",
			results: []fetchResult{pending(), succeeded("  "), succeeded("late")},
			phase:   domain.PhaseFailed,
			message: domain.MessageMalformedSuccess,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeClient()
			client.script("job-1", tc.results...)
			p, sched := newTestPoller(t, client, nil)
			rec := &recorder{}
			defer p.Subscribe(rec.listen)()

			require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
			waitPhase(t, p, domain.PhasePolling)
			for sched.FireNext() {
			}

			got := p.Status()
			require.Equal(t, tc.phase, got.Phase)
			require.NotNil(t, got.Error)
			require.Equal(t, tc.message, *got.Error)
			require.Nil(t, got.Result)
			require.Equal(t, 2, client.fetchCount())

			terminal := 0
			for _, u := range rec.all() {
				if u.Phase.Terminal() {
					terminal++
				}
			}
			require.Equal(t, 1, terminal)
		})
	}
}

func TestManyPendingSnapshots(t *testing.T) {
	client := newFakeClient()
	results := make([]fetchResult, 0, 51)
	for i := 0; i < 50; i++ {
		results = append(results, pending())
	}
	results = append(results, succeeded("done"))
	client.script("job-1", results...)
	p, sched := newTestPoller(t, client, nil)
	rec := &recorder{}
	defer p.Subscribe(rec.listen)()

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	waitPhase(t, p, domain.PhasePolling)
	for sched.FireNext() {
	}

	require.Equal(t, domain.PhaseSucceeded, p.Status().Phase)
	require.Equal(t, 51, client.fetchCount())
	// pending snapshots do not publish
	require.Len(t, rec.all(), 4)
}

func TestMaxPollsTimesOut(t *testing.T) {
	client := newFakeClient()
	p, sched := newTestPoller(t, client, func(o *Options) { o.MaxPolls = 3 })

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	waitPhase(t, p, domain.PhasePolling)
	for sched.FireNext() {
	}

	got := p.Status()
	require.Equal(t, domain.PhaseFailed, got.Phase)
	require.Equal(t, domain.MessageTimeout, *got.Error)
	require.Equal(t, 3, client.fetchCount())
}

func TestFetchRetriesBackOff(t *testing.T) {
	client := newFakeClient()
	fetchErr := fetchResult{err: &domain.FetchError{Err: errors.New("timeout")}}
	client.script("job-1", fetchErr, fetchErr, succeeded("recovered"))
	p, sched := newTestPoller(t, client, func(o *Options) { o.FetchRetries = 2 })

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	waitPhase(t, p, domain.PhasePolling)

	require.True(t, sched.FireNext())
	require.Equal(t, []time.Duration{2 * time.Second}, sched.Pending())
	require.True(t, sched.FireNext())
	require.Equal(t, []time.Duration{4 * time.Second}, sched.Pending())
	require.True(t, sched.FireNext())

	got := p.Status()
	require.Equal(t, domain.PhaseSucceeded, got.Phase)
	require.Equal(t, "recovered", *got.Result)
}

func TestFetchRetriesExhausted(t *testing.T) {
	client := newFakeClient()
	fetchErr := fetchResult{err: &domain.FetchError{Err: errors.New("timeout")}}
	client.script("job-1", fetchErr, fetchErr, succeeded("too late"))
	p, sched := newTestPoller(t, client, func(o *Options) { o.FetchRetries = 1 })

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	waitPhase(t, p, domain.PhasePolling)
	for sched.FireNext() {
	}

	require.Equal(t, domain.PhaseFailed, p.Status().Phase)
	require.Equal(t, 2, client.fetchCount())
}

func TestSupersedeDiscardsLateStatus(t *testing.T) {
	client := newFakeClient()
	var submits int
	var submitMu sync.Mutex
	client.submitFunc = func(context.Context, domain.JobRequest) (domain.JobHandle, error) {
		submitMu.Lock()
		defer submitMu.Unlock()
		submits++
		if submits == 1 {
			return "job-1", nil
		}
		return "job-2", nil
	}
	release := make(chan struct{})
	inFlight := make(chan struct{})
	client.fetchFunc = func(_ context.Context, handle domain.JobHandle) (domain.JobSnapshot, error) {
		if handle == "job-1" {
			close(inFlight)
			<-release
			return succeeded("stale caption").snapshot, nil
		}
		return succeeded("fresh caption").snapshot, nil
	}
	p, sched := newTestPoller(t, client, nil)
	rec := &recorder{}
	defer p.Subscribe(rec.listen)()

	require.NoError(t, p.RequestGeneration("https://example.com/one.jpg"))
	waitPhase(t, p, domain.PhasePolling)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		sched.FireNext()
	}()
	<-inFlight

	require.NoError(t, p.RequestGeneration("https://example.com/two.jpg"))
	second := waitPhase(t, p, domain.PhasePolling)
	require.Equal(t, domain.JobHandle("job-2"), second.Handle)

	close(release)
	<-firstDone
	require.Equal(t, domain.PhasePolling, p.Status().Phase, "late response must not apply")

	require.True(t, sched.FireNext())
	final := p.Status()
	require.Equal(t, domain.PhaseSucceeded, final.Phase)
	require.Equal(t, "fresh caption", *final.Result)
	require.Equal(t, "https://example.com/two.jpg", final.Input)
	require.Empty(t, sched.Pending())

	for _, u := range rec.all() {
		if u.Result != nil {
			require.NotEqual(t, "stale caption", *u.Result)
		}
	}
}

func TestSupersedeDiscardsLateSubmit(t *testing.T) {
	client := newFakeClient()
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	client.submitFunc = func(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-release
			return "job-stale", nil
		}
		return "job-2", nil
	}
	p, sched := newTestPoller(t, client, nil)

	require.NoError(t, p.RequestGeneration("https://example.com/one.jpg"))
	require.Eventually(t, func() bool { return client.submitCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.RequestGeneration("https://example.com/two.jpg"))
	waitPhase(t, p, domain.PhasePolling)

	close(release)
	p.wg.Wait()

	got := p.Status()
	require.Equal(t, domain.PhasePolling, got.Phase)
	require.Equal(t, domain.JobHandle("job-2"), got.Handle)
	require.Equal(t, []time.Duration{2 * time.Second}, sched.Pending())
}

func TestResetForNewInputIsIdempotentWhenIdle(t *testing.T) {
	client := newFakeClient()
	p, _ := newTestPoller(t, client, nil)
	rec := &recorder{}
	defer p.Subscribe(rec.listen)()

	require.NoError(t, p.ResetForNewInput(""))
	require.NoError(t, p.ResetForNewInput(""))
	require.Empty(t, rec.all())

	require.NoError(t, p.ResetForNewInput("https://example.com/a.jpg"))
	require.NoError(t, p.ResetForNewInput("https://example.com/a.jpg"))
	require.Len(t, rec.all(), 1)

	got := p.Status()
	require.Equal(t, domain.PhaseIdle, got.Phase)
	require.False(t, got.Busy)
	require.Nil(t, got.Result)
	require.Nil(t, got.Error)
	require.Zero(t, client.submitCount())
}

func TestResetStopsPolling(t *testing.T) {
	client := newFakeClient()
	p, sched := newTestPoller(t, client, nil)

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	waitPhase(t, p, domain.PhasePolling)
	require.Len(t, sched.Pending(), 1)

	require.NoError(t, p.ResetForNewInput("https://example.com/dog.jpg"))
	got := p.Status()
	require.Equal(t, domain.PhaseIdle, got.Phase)
	require.Empty(t, got.Handle)
	require.Empty(t, sched.Pending())
	require.False(t, sched.FireNext())
	require.Zero(t, client.fetchCount())
}

func TestResetClearsTerminalState(t *testing.T) {
	client := newFakeClient()
	client.script("job-1", succeeded("caption"))
	p, sched := newTestPoller(t, client, nil)

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	waitPhase(t, p, domain.PhasePolling)
	require.True(t, sched.FireNext())
	require.Equal(t, domain.PhaseSucceeded, p.Status().Phase)

	require.NoError(t, p.ResetForNewInput("https://example.com/dog.jpg"))
	got := p.Status()
	require.Equal(t, domain.PhaseIdle, got.Phase)
	require.Nil(t, got.Result)
	require.Nil(t, got.Error)
}

func TestGenerationIncreasesPerRequest(t *testing.T) {
	client := newFakeClient()
	p, _ := newTestPoller(t, client, nil)

	require.NoError(t, p.RequestGeneration("bad"))
	first := p.Status().Generation
	require.NoError(t, p.RequestGeneration("still bad"))
	require.Greater(t, p.Status().Generation, first)
}

func TestCancelRemoteOnSupersede(t *testing.T) {
	client := cancelingClient{newFakeClient()}
	p, _ := newTestPoller(t, client, func(o *Options) { o.CancelRemote = true })

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	waitPhase(t, p, domain.PhasePolling)
	require.NoError(t, p.ResetForNewInput(""))

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.cancels) == 1 && client.cancels[0] == "job-1"
	}, time.Second, time.Millisecond)
}

func TestCloseCancelsInFlightFetch(t *testing.T) {
	client := newFakeClient()
	started := make(chan struct{})
	client.fetchFunc = func(ctx context.Context, _ domain.JobHandle) (domain.JobSnapshot, error) {
		close(started)
		<-ctx.Done()
		return domain.JobSnapshot{}, &domain.FetchError{Err: ctx.Err()}
	}
	p, sched := newTestPoller(t, client, nil)
	rec := &recorder{}
	p.Subscribe(rec.listen)

	require.NoError(t, p.RequestGeneration("https://example.com/cat.jpg"))
	waitPhase(t, p, domain.PhasePolling)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.FireNext()
	}()
	<-started

	p.Close()
	<-done

	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	require.Equal(t, domain.PhaseIdle, p.Status().Phase)
	for _, u := range rec.all() {
		require.NotEqual(t, domain.PhaseFailed, u.Phase)
	}
	require.ErrorIs(t, p.RequestGeneration("https://example.com/cat.jpg"), ErrClosed)
	require.ErrorIs(t, p.ResetForNewInput(""), ErrClosed)
	p.Close()
}

func TestWaitReturnsTerminalUpdate(t *testing.T) {
	client := newFakeClient()
	client.script("job-1", pending(), succeeded("A dog."))
	p, err := NewPoller(Options{Client: client, Interval: time.Millisecond})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.RequestGeneration("https://example.com/dog.jpg"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := p.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseSucceeded, got.Phase)
	require.Equal(t, "A dog.", *got.Result)
}

func TestWaitHonoursContext(t *testing.T) {
	client := newFakeClient()
	p, _ := newTestPoller(t, client, nil)

	require.NoError(t, p.RequestGeneration("https://example.com/dog.jpg"))
	waitPhase(t, p, domain.PhasePolling)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := p.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, got.Busy)
}

func TestNewPollerValidatesOptions(t *testing.T) {
	_, err := NewPoller(Options{})
	require.Error(t, err)

	_, err = NewPoller(Options{Client: newFakeClient(), MaxPolls: -1})
	require.Error(t, err)
}

func TestBackoff(t *testing.T) {
	require.Equal(t, time.Second, backoff(time.Second, 1))
	require.Equal(t, 2*time.Second, backoff(time.Second, 2))
	require.Equal(t, 4*time.Second, backoff(time.Second, 3))
	require.Equal(t, 8*time.Second, backoff(time.Second, 10))
}
