package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/example/adlib/internal/adlib"
	"github.com/example/adlib/internal/config"
	"github.com/example/adlib/internal/db"
	"github.com/example/adlib/internal/logging"
	"github.com/example/adlib/internal/pagestate"
	"github.com/example/adlib/internal/statestore"
)

func setup() (config.Config, *logrus.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logrus.SetLevel(logger.GetLevel())
	logrus.SetFormatter(logger.Formatter)
	return cfg, logger, nil
}

func newBackend(cfg config.Config) *adlib.Client {
	return adlib.New(adlib.Options{
		BaseURL:        cfg.BackendURL,
		IdentityHeader: cfg.IdentityHeader,
		Username:       cfg.Username,
		Timeout:        cfg.HTTPTimeout,
	})
}

// openStateStore picks the page-state backend. d may be nil unless the
// postgres backend is selected.
func openStateStore(ctx context.Context, cfg config.Config, d *db.DB) (statestore.Store, func(), error) {
	switch cfg.StateBackend {
	case config.StateBackendPostgres:
		if d == nil {
			return nil, nil, fmt.Errorf("ADLIB_STATE_BACKEND=postgres needs DATABASE_URL")
		}
		return statestore.NewPostgresStore(d), func() {}, nil
	case config.StateBackendRedis:
		rs, err := statestore.OpenRedis(ctx, cfg.RedisURL, 0)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return statestore.NewFileStore(cfg.StateFile, cfg.CookieHashKey, cfg.CookieBlockKey), func() {}, nil
	}
}

// localSession is the terminal participant: one controller keyed by
// ADLIB_USERNAME in the configured store.
type localSession struct {
	cfg     config.Config
	logger  *logrus.Logger
	backend *adlib.Client
	ctrl    *pagestate.Controller
	closers []func()
}

func openLocalSession(ctx context.Context) (*localSession, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("ADLIB_USERNAME is required")
	}
	s := &localSession{cfg: cfg, logger: logger, backend: newBackend(cfg)}

	var d *db.DB
	if cfg.StateBackend == config.StateBackendPostgres {
		if d, err = db.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, d.Close)
	}
	store, closeStore, err := openStateStore(ctx, cfg, d)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, closeStore)

	s.ctrl, err = pagestate.New(ctx, pagestate.Options{
		Backend:      s.backend,
		Store:        store,
		Key:          pagestate.UserKey(cfg.Username),
		PollInterval: cfg.PollInterval,
		Logger:       logger.WithField("user", cfg.Username),
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, s.ctrl.Close)
	return s, nil
}

func (s *localSession) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
