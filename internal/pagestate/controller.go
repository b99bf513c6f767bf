package pagestate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/adlib/internal/adlib"
	"github.com/example/adlib/internal/form"
	"github.com/example/adlib/internal/statestore"
)

const DefaultKey = "page-state"

// UserKey namespaces DefaultKey when one store holds many participants.
func UserKey(username string) string { return DefaultKey + ":" + username }

// Backend is the part of the matching service the controller drives.
type Backend interface {
	AddParticipant(ctx context.Context, req form.SubmissionRequest) error
	SearchMatch(ctx context.Context) (adlib.PollResult, error)
	RemoveParticipant(ctx context.Context) error
}

type Options struct {
	Backend Backend
	Store   statestore.Store
	// Key names the persisted state; match details live under Key+".match".
	Key          string
	PollInterval time.Duration
	Scheduler    Scheduler
	Now          func() time.Time
	Logger       *logrus.Entry
}

// Controller owns one participant's page state. Polls run on timer
// goroutines; every mutation happens under mu and is persisted before the
// lock is released, so the store only ever sees the controller's writes in
// order. Polls re-read the persisted state before and after each request, so
// a state written by another controller on the same key wins over a poll
// still in progress here.
type Controller struct {
	backend  Backend
	store    statestore.Store
	key      string
	interval time.Duration
	sched    Scheduler
	now      func() time.Time
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	match   MatchInfo
	timer   Timer
	gen     uint64
	exiting bool
	subs    map[chan Snapshot]struct{}
}

// New reads the persisted state once; a missing or unknown value means Form.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Backend == nil {
		return nil, errors.New("pagestate: backend is nil")
	}
	if opts.Store == nil {
		return nil, errors.New("pagestate: store is nil")
	}
	if opts.PollInterval <= 0 {
		return nil, errors.New("pagestate: poll interval must be positive")
	}
	c := &Controller{
		backend:  opts.Backend,
		store:    opts.Store,
		key:      opts.Key,
		interval: opts.PollInterval,
		sched:    opts.Scheduler,
		now:      opts.Now,
		log:      opts.Logger,
		state:    Form,
		subs:     make(map[chan Snapshot]struct{}),
	}
	if c.key == "" {
		c.key = DefaultKey
	}
	if c.sched == nil {
		c.sched = RealScheduler
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	c.log = c.log.WithField("key", c.key)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	raw, err := c.store.Get(ctx, c.key)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if st, ok := Parse(raw); ok {
			c.state = st
		} else {
			c.log.WithField("value", raw).Warn("ignoring unknown persisted page state")
		}
	}
	if c.state != Form {
		c.match = c.loadMatch(ctx)
	}
	return c, nil
}

func (c *Controller) loadMatch(ctx context.Context) MatchInfo {
	var m MatchInfo
	raw, err := c.store.Get(ctx, c.matchKey())
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		return m
	case err != nil:
		c.log.WithError(err).Warn("read match details")
		return m
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		c.log.WithError(err).WithField("value", raw).Warn("ignoring corrupt match details")
		return MatchInfo{}
	}
	return m
}

func (c *Controller) matchKey() string { return c.key + ".match" }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, Match: c.match}
}

func (c *Controller) PollInterval() time.Duration { return c.interval }

// Resume restarts polling for a controller restored in Loading.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Loading || c.exiting || c.timer != nil {
		return
	}
	c.log.Info("resuming match polling")
	c.schedule(0)
}

// Submit validates req and, when valid, enters the queue and starts polling.
// Validation errors leave the state untouched. A failed add-participant call
// lands in Error.
func (c *Controller) Submit(ctx context.Context, req form.SubmissionRequest) error {
	req = req.Normalized()
	if err := form.ValidateRequest(req, c.now()); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Form {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.transition(Loading, MatchInfo{})
	gen := c.gen
	c.mu.Unlock()

	err := c.backend.AddParticipant(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != Loading {
		return nil
	}
	if err != nil {
		c.log.WithError(err).Error("add participant failed")
		c.transition(Error, MatchInfo{Reason: err.Error()})
		return err
	}
	c.log.WithFields(logrus.Fields{
		"duration": req.Duration,
		"until":    req.EndTime().Format(time.RFC3339),
	}).Info("entered matching queue")
	c.schedule(0)
	return nil
}

// Exit leaves the queue. Polling stops before the removal request is sent;
// a failed removal lands in Error rather than claiming the exit succeeded.
func (c *Controller) Exit(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Loading || c.exiting {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.exiting = true
	c.stopPolling()
	gen := c.gen
	c.mu.Unlock()

	err := c.backend.RemoveParticipant(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.exiting = false
	if gen != c.gen || c.state != Loading {
		return err
	}
	if err != nil {
		c.log.WithError(err).Error("remove participant failed")
		c.transition(Error, MatchInfo{Reason: err.Error()})
		return err
	}
	c.log.Info("left matching queue")
	c.transition(ExitQueue, MatchInfo{})
	return nil
}

// Reset starts a fresh session from a terminal view.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == Form:
		return nil
	case !c.state.Terminal():
		return ErrInvalidTransition
	}
	c.transition(Form, MatchInfo{})
	if err := c.store.Delete(ctx, c.matchKey()); err != nil {
		c.log.WithError(err).Warn("clear match details")
	}
	return nil
}

// Close stops polling and aborts an in-flight poll. The persisted state is
// left as is so a later controller can resume it.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopPolling()
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
	c.mu.Unlock()
	c.cancel()
}

// Subscribe delivers the latest snapshot after every transition. Slow
// readers only ever see the newest value.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- Snapshot{State: c.state, Match: c.match}
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// schedule replaces any pending poll with one firing after d. Caller holds mu.
func (c *Controller) schedule(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	} else {
		activePollers.Inc()
	}
	gen := c.gen
	c.timer = c.sched.AfterFunc(d, func() { c.poll(gen) })
}

// stopPolling cancels the pending poll and invalidates in-flight ones.
// Caller holds mu.
func (c *Controller) stopPolling() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
		activePollers.Dec()
	}
	c.gen++
}

func (c *Controller) poll(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Loading {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer = nil
		activePollers.Dec()
	}
	if c.superseded() {
		c.mu.Unlock()
		pollsTotal.WithLabelValues("superseded").Inc()
		return
	}
	c.mu.Unlock()

	res, err := c.backend.SearchMatch(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != Loading {
		pollsTotal.WithLabelValues("discarded").Inc()
		return
	}
	if c.superseded() {
		pollsTotal.WithLabelValues("superseded").Inc()
		return
	}
	if err != nil {
		pollsTotal.WithLabelValues("error").Inc()
		c.log.WithError(err).Error("search match failed")
		c.transition(Error, MatchInfo{Reason: err.Error()})
		return
	}

	switch res.MatchStatus {
	case adlib.StatusPending:
		pollsTotal.WithLabelValues("pending").Inc()
		c.log.Debug("no match yet")
		c.schedule(c.interval)
	case adlib.StatusMatched:
		pollsTotal.WithLabelValues("matched").Inc()
		c.log.WithField("match", res.MatchUsername).Info("match found")
		c.transition(Matched, MatchInfo{MatchUsername: res.MatchUsername})
	case adlib.StatusExpired:
		pollsTotal.WithLabelValues("expired").Inc()
		c.log.Info("availability window expired without a match")
		c.transition(NoMatch, MatchInfo{Duration: res.Duration, EndTimeAvailable: res.EndTimeAvailable})
	default:
		pollsTotal.WithLabelValues("malformed").Inc()
		c.transition(Error, MatchInfo{Reason: "unexpected match status " + string(res.MatchStatus)})
	}
}

// transition moves to next, stops polling, persists and notifies. Callers
// that want to keep polling schedule again afterwards. Caller holds mu.
func (c *Controller) transition(next State, info MatchInfo) {
	prev := c.state
	c.stopPolling()
	c.state = next
	c.match = info
	transitionsTotal.WithLabelValues(string(next)).Inc()
	c.log.WithFields(logrus.Fields{"from": prev, "to": next}).Debug("page state transition")

	if err := c.store.Set(c.ctx, c.key, string(next)); err != nil {
		c.log.WithError(err).Error("persist page state")
	}
	if next.Terminal() {
		if b, err := json.Marshal(info); err == nil {
			if err := c.store.Set(c.ctx, c.matchKey(), string(b)); err != nil {
				c.log.WithError(err).Warn("persist match details")
			}
		}
	}

	c.notify(Snapshot{State: next, Match: info})
}

// superseded reports whether another controller sharing the key has moved
// the persisted state out of Loading, and if so adopts that state without
// writing it back. Caller holds mu.
func (c *Controller) superseded() bool {
	raw, err := c.store.Get(c.ctx, c.key)
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			c.log.WithError(err).Warn("re-read page state")
		}
		return false
	}
	st, ok := Parse(raw)
	if !ok || st == Loading {
		return false
	}
	c.log.WithField("state", st).Info("page state changed by another client, stopping polls")
	c.stopPolling()
	c.state = st
	c.match = MatchInfo{}
	if st != Form {
		c.match = c.loadMatch(c.ctx)
	}
	c.notify(Snapshot{State: c.state, Match: c.match})
	return true
}

// notify hands snap to every subscriber, replacing any unread value.
// Caller holds mu.
func (c *Controller) notify(snap Snapshot) {
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
