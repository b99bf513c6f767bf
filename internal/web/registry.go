package web

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/adlib/internal/adlib"
	"github.com/example/adlib/internal/pagestate"
	"github.com/example/adlib/internal/statestore"
)

// Registry keeps one page-state controller per logged-in participant. A
// controller outlives the request that created it so polling continues while
// the browser is closed.
type Registry struct {
	Backend      *adlib.Client
	Store        statestore.Store
	PollInterval time.Duration
	// Scheduler and Now are nil in production.
	Scheduler pagestate.Scheduler
	Now       func() time.Time
	Logger    *logrus.Logger

	mu          sync.Mutex
	controllers map[string]*pagestate.Controller
}

// For returns username's controller, restoring it from the store on first
// use. The store read happens outside mu; when two requests race, the first
// controller registered wins and the other is closed unused.
func (r *Registry) For(ctx context.Context, username string) (*pagestate.Controller, error) {
	r.mu.Lock()
	c, ok := r.controllers[username]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	logger := r.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fresh, err := pagestate.New(ctx, pagestate.Options{
		Backend:      r.Backend.ForUser(username),
		Store:        r.Store,
		Key:          pagestate.UserKey(username),
		PollInterval: r.PollInterval,
		Scheduler:    r.Scheduler,
		Now:          r.Now,
		Logger:       logger.WithField("user", username),
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if c, ok := r.controllers[username]; ok {
		r.mu.Unlock()
		fresh.Close()
		return c, nil
	}
	if r.controllers == nil {
		r.controllers = make(map[string]*pagestate.Controller)
	}
	r.controllers[username] = fresh
	r.mu.Unlock()

	fresh.Resume()
	return fresh, nil
}

// Close stops every controller. Persisted states are left for the next start.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for u, c := range r.controllers {
		c.Close()
		delete(r.controllers, u)
	}
}
