package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/adlib/internal/auth"
	"github.com/example/adlib/internal/db"
	"github.com/example/adlib/internal/migrate"
	"github.com/example/adlib/internal/web"
)

func newServeCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Run the web UI; each logged-in participant gets a polling page-state controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.RequireCookieKeys(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			store, closeStore, err := openStateStore(ctx, cfg, d)
			if err != nil {
				return err
			}
			defer closeStore()

			reg := &web.Registry{
				Backend:      newBackend(cfg),
				Store:        store,
				PollInterval: cfg.PollInterval,
				Logger:       logger,
			}
			defer reg.Close()

			ws := &web.Server{
				Auth:        auth.NewStore(d, cfg.CookieHashKey, cfg.CookieBlockKey),
				Controllers: reg,
				Logger:      logger,
			}
			logger.WithField("state_backend", cfg.StateBackend).Info("starting web UI")
			return web.Start(ctx, cfg.ListenAddr, ws.Routes())
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
