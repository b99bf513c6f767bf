package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/adlib/internal/pagestate"
	"github.com/example/adlib/internal/view"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted page state without polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLocalSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			snap := s.ctrl.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "state: %s\n", snap.State)
			return view.Fprint(cmd.OutOrStdout(), view.For(snap, time.Local))
		},
	}
}

func newExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "Leave the matching queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLocalSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.ctrl.Exit(cmd.Context()); err != nil {
				if errors.Is(err, pagestate.ErrInvalidTransition) {
					return fmt.Errorf("not in the matching queue (state %q)", s.ctrl.State())
				}
				return err
			}
			return view.Fprint(cmd.OutOrStdout(), view.For(s.ctrl.Snapshot(), time.Local))
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Start over after a match, no-match, error or exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openLocalSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.ctrl.Reset(cmd.Context()); err != nil {
				if errors.Is(err, pagestate.ErrInvalidTransition) {
					return fmt.Errorf("still in the matching queue; run `adlib exit` first")
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ready for a new match")
			return nil
		},
	}
}

func newPrefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prefs",
		Short: "Print the preferences saved with the matching service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if cfg.Username == "" {
				return fmt.Errorf("ADLIB_USERNAME is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HTTPTimeout)
			defer cancel()
			p, err := newBackend(cfg).LoadPreferences(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !p.Existing {
				fmt.Fprintln(out, "no saved preferences")
				return nil
			}
			fmt.Fprintf(out, "duration:     %d minutes\n", p.Duration)
			fmt.Fprintf(out, "role:         %s\n", p.Role)
			fmt.Fprintf(out, "product area: %s\n", p.ProductArea)
			fmt.Fprintf(out, "interests:    %s\n", strings.Join(p.Interests, ", "))
			fmt.Fprintf(out, "match:        %s\n", p.MatchPreference)
			return nil
		},
	}
}
