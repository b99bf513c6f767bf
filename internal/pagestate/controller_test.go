package pagestate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/adlib/internal/adlib"
	"github.com/example/adlib/internal/form"
	"github.com/example/adlib/internal/statestore"
)

var testNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// live returns timers that are neither stopped nor fired.
func (s *fakeScheduler) live() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single live timer.
func (s *fakeScheduler) fire(t *testing.T) *fakeTimer {
	t.Helper()
	live := s.live()
	require.Len(t, live, 1, "expected exactly one scheduled poll")
	live[0].fired = true
	live[0].fn()
	return live[0]
}

// fireAsync runs the single live timer on its own goroutine.
func (s *fakeScheduler) fireAsync(t *testing.T) <-chan struct{} {
	t.Helper()
	live := s.live()
	require.Len(t, live, 1, "expected exactly one scheduled poll")
	live[0].fired = true
	done := make(chan struct{})
	go func() {
		defer close(done)
		live[0].fn()
	}()
	return done
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

type fakeBackend struct {
	mu sync.Mutex
	// started and release, when set, hold SearchMatch open mid-flight.
	started   chan struct{}
	release   chan struct{}
	addErr    error
	removeErr error
	results   []adlib.PollResult
	pollErrs  []error
	added     []form.SubmissionRequest
	removed   int
	polls     int
}

func (b *fakeBackend) AddParticipant(_ context.Context, req form.SubmissionRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = append(b.added, req)
	return b.addErr
}

func (b *fakeBackend) SearchMatch(context.Context) (adlib.PollResult, error) {
	b.mu.Lock()
	i := b.polls
	b.polls++
	started, release := b.started, b.release
	b.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if i < len(b.pollErrs) && b.pollErrs[i] != nil {
		return adlib.PollResult{}, b.pollErrs[i]
	}
	if i < len(b.results) {
		return b.results[i], nil
	}
	return adlib.PollResult{MatchStatus: adlib.StatusPending}, nil
}

func (b *fakeBackend) RemoveParticipant(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed++
	return b.removeErr
}

type harness struct {
	c       *Controller
	backend *fakeBackend
	sched   *fakeScheduler
	store   *statestore.MemoryStore
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newHarness(t *testing.T, backend *fakeBackend, store *statestore.MemoryStore) *harness {
	t.Helper()
	if backend == nil {
		backend = &fakeBackend{}
	}
	if store == nil {
		store = statestore.NewMemoryStore()
	}
	sched := &fakeScheduler{}
	c, err := New(context.Background(), Options{
		Backend:      backend,
		Store:        store,
		PollInterval: 30 * time.Second,
		Scheduler:    sched,
		Now:          func() time.Time { return testNow },
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return &harness{c: c, backend: backend, sched: sched, store: store}
}

func validRequest() form.SubmissionRequest {
	req := form.Defaults(testNow)
	req.EndTimeAvailable = testNow.Add(time.Hour).UnixMilli()
	req.Role = "Software engineer"
	req.ProductArea = "Cloud"
	return req
}

func persisted(t *testing.T, s statestore.Store) string {
	t.Helper()
	v, err := s.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	return v
}

func TestNewDefaultsToForm(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Equal(t, Form, h.c.State())
	assert.Empty(t, h.sched.live())
}

func TestNewIgnoresUnknownPersistedValue(t *testing.T) {
	store := statestore.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), DefaultKey, "dancing"))
	h := newHarness(t, nil, store)
	assert.Equal(t, Form, h.c.State())
}

func TestSubmitInvalidLeavesStateAlone(t *testing.T) {
	h := newHarness(t, nil, nil)
	req := validRequest()
	req.EndTimeAvailable = testNow.Add(10 * time.Minute).UnixMilli()

	err := h.c.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, form.IsKind(err, form.InsufficientWindow))
	assert.Equal(t, Form, h.c.State())
	assert.Empty(t, h.backend.added)
	assert.Empty(t, h.sched.live())
	_, err = h.store.Get(context.Background(), DefaultKey)
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestSubmitEntersLoadingAndPollsImmediately(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))

	assert.Equal(t, Loading, h.c.State())
	assert.Equal(t, "loading", persisted(t, h.store))
	require.Len(t, h.backend.added, 1)
	live := h.sched.live()
	require.Len(t, live, 1)
	assert.Equal(t, time.Duration(0), live[0].delay)
}

func TestPendingPollSchedulesExactlyOneMore(t *testing.T) {
	h := newHarness(t, &fakeBackend{results: []adlib.PollResult{{MatchStatus: adlib.StatusPending}}}, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))

	h.sched.fire(t)
	assert.Equal(t, Loading, h.c.State())
	live := h.sched.live()
	require.Len(t, live, 1)
	assert.Equal(t, 30*time.Second, live[0].delay)
}

func TestMatchedStopsPolling(t *testing.T) {
	backend := &fakeBackend{results: []adlib.PollResult{
		{MatchStatus: adlib.StatusPending},
		{MatchStatus: adlib.StatusMatched, MatchUsername: "alice"},
	}}
	h := newHarness(t, backend, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))

	h.sched.fire(t)
	h.sched.fire(t)

	snap := h.c.Snapshot()
	assert.Equal(t, Matched, snap.State)
	assert.Equal(t, "alice", snap.Match.MatchUsername)
	assert.Empty(t, h.sched.live())
	assert.Equal(t, "matched", persisted(t, h.store))
	assert.Equal(t, 2, backend.polls)
}

func TestExpiredLandsInNoMatch(t *testing.T) {
	end := testNow.Add(45 * time.Minute).UnixMilli()
	backend := &fakeBackend{results: []adlib.PollResult{{MatchStatus: adlib.StatusExpired, Duration: 30, EndTimeAvailable: end}}}
	h := newHarness(t, backend, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))

	h.sched.fire(t)
	snap := h.c.Snapshot()
	assert.Equal(t, NoMatch, snap.State)
	assert.Equal(t, 30, snap.Match.Duration)
	assert.Equal(t, end, snap.Match.EndTimeAvailable)
	assert.Empty(t, h.sched.live())
}

func TestTransportFailureLandsInErrorWithoutRetry(t *testing.T) {
	backend := &fakeBackend{pollErrs: []error{errors.New("connection refused")}}
	h := newHarness(t, backend, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))

	h.sched.fire(t)
	assert.Equal(t, Error, h.c.State())
	assert.Empty(t, h.sched.live())
	assert.Equal(t, 1, backend.polls)
	assert.Equal(t, "error", persisted(t, h.store))
}

func TestAddParticipantFailureLandsInError(t *testing.T) {
	h := newHarness(t, &fakeBackend{addErr: errors.New("503")}, nil)
	require.Error(t, h.c.Submit(context.Background(), validRequest()))
	assert.Equal(t, Error, h.c.State())
	assert.Empty(t, h.sched.live())
}

func TestExitStopsPolling(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))
	h.sched.fire(t)
	require.Len(t, h.sched.live(), 1)

	require.NoError(t, h.c.Exit(context.Background()))
	assert.Equal(t, ExitQueue, h.c.State())
	assert.Equal(t, 1, h.backend.removed)
	assert.Empty(t, h.sched.live())
	assert.Equal(t, "exit-queue", persisted(t, h.store))
}

func TestExitFailureStillStopsPolling(t *testing.T) {
	h := newHarness(t, &fakeBackend{removeErr: errors.New("timeout")}, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))

	require.Error(t, h.c.Exit(context.Background()))
	assert.Equal(t, Error, h.c.State())
	assert.Empty(t, h.sched.live())
}

func TestStaleCallbackIsIgnored(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))
	stale := h.sched.live()[0]

	require.NoError(t, h.c.Exit(context.Background()))
	stale.fn() // a timer that fired just as it was stopped
	assert.Equal(t, ExitQueue, h.c.State())
	assert.Equal(t, 0, h.backend.polls)
	assert.Empty(t, h.sched.live())
}

func TestInFlightResponseAfterExitIsDiscarded(t *testing.T) {
	backend := &fakeBackend{
		started: make(chan struct{}),
		release: make(chan struct{}),
		results: []adlib.PollResult{{MatchStatus: adlib.StatusMatched, MatchUsername: "gus"}},
	}
	h := newHarness(t, backend, nil)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))
	discarded := counterValue(t, pollsTotal.WithLabelValues("discarded"))

	done := h.sched.fireAsync(t)
	<-backend.started
	require.NoError(t, h.c.Exit(context.Background()))
	close(backend.release)
	<-done

	snap := h.c.Snapshot()
	assert.Equal(t, ExitQueue, snap.State)
	assert.Empty(t, snap.Match.MatchUsername)
	assert.Empty(t, h.sched.live())
	assert.Equal(t, "exit-queue", persisted(t, h.store))
	assert.Equal(t, discarded+1, counterValue(t, pollsTotal.WithLabelValues("discarded")))
}

func TestExitFromSecondControllerStopsFirst(t *testing.T) {
	store := statestore.NewMemoryStore()
	backend := &fakeBackend{results: []adlib.PollResult{
		{MatchStatus: adlib.StatusPending},
		{MatchStatus: adlib.StatusMatched, MatchUsername: "hal"},
	}}
	running := newHarness(t, backend, store)
	require.NoError(t, running.c.Submit(context.Background(), validRequest()))
	running.sched.fire(t)
	require.Len(t, running.sched.live(), 1)

	other := newHarness(t, nil, store)
	require.Equal(t, Loading, other.c.State())
	require.NoError(t, other.c.Exit(context.Background()))
	assert.Equal(t, 1, other.backend.removed)

	updates, unsubscribe := running.c.Subscribe()
	defer unsubscribe()
	<-updates

	running.sched.fire(t)
	assert.Equal(t, ExitQueue, running.c.State())
	assert.Equal(t, ExitQueue, (<-updates).State)
	assert.Equal(t, "exit-queue", persisted(t, store))
	assert.Empty(t, running.sched.live())
	assert.Equal(t, 1, backend.polls)
}

func TestExitFromSecondControllerDuringPoll(t *testing.T) {
	store := statestore.NewMemoryStore()
	backend := &fakeBackend{
		started: make(chan struct{}),
		release: make(chan struct{}),
		results: []adlib.PollResult{{MatchStatus: adlib.StatusMatched, MatchUsername: "ivy"}},
	}
	running := newHarness(t, backend, store)
	require.NoError(t, running.c.Submit(context.Background(), validRequest()))
	superseded := counterValue(t, pollsTotal.WithLabelValues("superseded"))

	done := running.sched.fireAsync(t)
	<-backend.started
	other := newHarness(t, nil, store)
	require.NoError(t, other.c.Exit(context.Background()))
	close(backend.release)
	<-done

	assert.Equal(t, ExitQueue, running.c.State())
	assert.Equal(t, "exit-queue", persisted(t, store))
	assert.Empty(t, running.sched.live())
	assert.Equal(t, superseded+1, counterValue(t, pollsTotal.WithLabelValues("superseded")))
}

func TestCorruptMatchDetailsAreLogged(t *testing.T) {
	store := statestore.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), DefaultKey, "matched"))
	require.NoError(t, store.Set(context.Background(), DefaultKey+".match", "{not json"))

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	c, err := New(context.Background(), Options{
		Backend:      &fakeBackend{},
		Store:        store,
		PollInterval: time.Second,
		Scheduler:    &fakeScheduler{},
		Logger:       logrus.NewEntry(l),
	})
	require.NoError(t, err)
	defer c.Close()

	snap := c.Snapshot()
	assert.Equal(t, Matched, snap.State)
	assert.Equal(t, MatchInfo{}, snap.Match)
	assert.Contains(t, buf.String(), "ignoring corrupt match details")
	assert.Contains(t, buf.String(), "level=warning")
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.ErrorIs(t, h.c.Exit(context.Background()), ErrInvalidTransition)

	require.NoError(t, h.c.Submit(context.Background(), validRequest()))
	assert.ErrorIs(t, h.c.Submit(context.Background(), validRequest()), ErrInvalidTransition)
	assert.ErrorIs(t, h.c.Reset(context.Background()), ErrInvalidTransition)
	assert.Len(t, h.backend.added, 1)
}

func TestTerminalStatesDoNotResumePolling(t *testing.T) {
	for _, st := range []State{Matched, NoMatch, Error, ExitQueue} {
		t.Run(string(st), func(t *testing.T) {
			store := statestore.NewMemoryStore()
			require.NoError(t, store.Set(context.Background(), DefaultKey, string(st)))
			h := newHarness(t, nil, store)
			h.c.Resume()
			assert.Equal(t, st, h.c.State())
			assert.Empty(t, h.sched.live())
			assert.ErrorIs(t, h.c.Submit(context.Background(), validRequest()), ErrInvalidTransition)
		})
	}
}

func TestReloadResumesLoading(t *testing.T) {
	store := statestore.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), DefaultKey, "loading"))
	backend := &fakeBackend{results: []adlib.PollResult{{MatchStatus: adlib.StatusMatched, MatchUsername: "dana"}}}
	h := newHarness(t, backend, store)

	assert.Equal(t, Loading, h.c.State())
	h.c.Resume()
	h.c.Resume()
	h.sched.fire(t)
	assert.Equal(t, Matched, h.c.State())
}

func TestReloadRestoresMatchDetails(t *testing.T) {
	store := statestore.NewMemoryStore()
	backend := &fakeBackend{results: []adlib.PollResult{{MatchStatus: adlib.StatusMatched, MatchUsername: "erin"}}}
	h := newHarness(t, backend, store)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))
	h.sched.fire(t)

	again := newHarness(t, nil, store)
	snap := again.c.Snapshot()
	assert.Equal(t, Matched, snap.State)
	assert.Equal(t, "erin", snap.Match.MatchUsername)
}

func TestResetReturnsToForm(t *testing.T) {
	store := statestore.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), DefaultKey, "no-match"))
	h := newHarness(t, nil, store)

	require.NoError(t, h.c.Reset(context.Background()))
	assert.Equal(t, Form, h.c.State())
	assert.Equal(t, "form", persisted(t, store))
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))
	assert.Equal(t, Loading, h.c.State())
}

func TestSubscribeSeesTransitions(t *testing.T) {
	h := newHarness(t, &fakeBackend{results: []adlib.PollResult{{MatchStatus: adlib.StatusMatched, MatchUsername: "fay"}}}, nil)
	ch, unsubscribe := h.c.Subscribe()
	defer unsubscribe()

	assert.Equal(t, Form, (<-ch).State)
	require.NoError(t, h.c.Submit(context.Background(), validRequest()))
	assert.Equal(t, Loading, (<-ch).State)
	h.sched.fire(t)
	snap := <-ch
	assert.Equal(t, Matched, snap.State)
	assert.Equal(t, "fay", snap.Match.MatchUsername)
}

func TestParse(t *testing.T) {
	for _, s := range []string{"form", "loading", "matched", "no-match", "error", "exit-queue"} {
		st, ok := Parse(s)
		assert.True(t, ok)
		assert.Equal(t, s, st.String())
	}
	_, ok := Parse("Matched")
	assert.False(t, ok)
}
