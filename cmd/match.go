package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/adlib/internal/adlib"
	"github.com/example/adlib/internal/form"
	"github.com/example/adlib/internal/pagestate"
	"github.com/example/adlib/internal/view"
)

type matchFlags struct {
	until       string
	duration    int
	role        string
	productArea string
	interests   []string
	preference  string
	save        bool
	useSaved    bool
}

func newMatchCmd() *cobra.Command {
	var f matchFlags

	c := &cobra.Command{
		Use:   "match",
		Short: "Enter the matching queue and wait for a match (Ctrl-C leaves the queue)",
		Long: "Enter the matching queue and wait for a match. If a previous run is still\n" +
			"in the queue, waiting resumes instead. Ctrl-C leaves the queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			s, err := openLocalSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()

			switch st := s.ctrl.State(); {
			case st == pagestate.Loading:
				s.ctrl.Resume()
			case st.Terminal():
				_ = view.Fprint(out, view.For(s.ctrl.Snapshot(), time.Local))
				return fmt.Errorf("previous session ended in %q; run `adlib reset` to start over", st)
			default:
				var prefs adlib.Preferences
				if f.useSaved {
					if prefs, err = s.backend.LoadPreferences(ctx); err != nil {
						s.logger.WithError(err).Warn("could not load saved preferences")
					}
				}
				req, err := f.request(prefs, cmd.Flags().Changed, time.Now(), time.Local)
				if err != nil {
					return err
				}
				if err := s.ctrl.Submit(ctx, req); err != nil {
					var ve *form.ValidationError
					if errors.As(err, &ve) {
						return ve
					}
					_ = view.Fprint(out, view.For(s.ctrl.Snapshot(), time.Local))
					return err
				}
			}

			snap := wait(ctx, s.ctrl, out)
			if snap.State == pagestate.Loading {
				exitCtx, cancelExit := context.WithTimeout(context.Background(), s.cfg.HTTPTimeout)
				defer cancelExit()
				if err := s.ctrl.Exit(exitCtx); err != nil {
					s.logger.WithError(err).Error("leave queue")
				}
				snap = s.ctrl.Snapshot()
			}
			return view.Fprint(out, view.For(snap, time.Local))
		},
	}

	c.Flags().StringVar(&f.until, "until", "", "free until: HH:MM today, +90m, or RFC3339")
	c.Flags().IntVar(&f.duration, "duration", 15, "chat length in minutes (15, 30, 45, 60)")
	c.Flags().StringVar(&f.role, "role", "", "your role")
	c.Flags().StringVar(&f.productArea, "product-area", "", "your product area")
	c.Flags().StringSliceVar(&f.interests, "interests", nil, "comma-separated interests")
	c.Flags().StringVar(&f.preference, "preference", string(form.MatchAny), "match someone similar, any or different")
	c.Flags().BoolVar(&f.save, "save", true, "save these preferences for next time")
	c.Flags().BoolVar(&f.useSaved, "use-saved", true, "start from saved preferences; flags override them")
	_ = c.MarkFlagRequired("until")
	return c
}

// request merges saved preferences with explicitly set flags.
func (f matchFlags) request(prefs adlib.Preferences, changed func(string) bool, now time.Time, loc *time.Location) (form.SubmissionRequest, error) {
	req := form.Defaults(now)
	if prefs.Existing {
		if prefs.Duration > 0 {
			req.Duration = prefs.Duration
		}
		req.Role = prefs.Role
		req.ProductArea = prefs.ProductArea
		if prefs.Interests != nil {
			req.Interests = prefs.Interests
		}
		if prefs.MatchPreference != "" {
			req.MatchPreference = prefs.MatchPreference
		}
	}
	if !prefs.Existing || changed("duration") {
		req.Duration = f.duration
	}
	if f.role != "" {
		req.Role = f.role
	}
	if f.productArea != "" {
		req.ProductArea = f.productArea
	}
	if changed("interests") {
		req.Interests = f.interests
	}
	if !prefs.Existing || changed("preference") {
		req.MatchPreference = form.MatchPreference(f.preference)
	}
	req.SavePreference = f.save

	until, err := parseUntil(f.until, now, loc)
	if err != nil {
		return req, err
	}
	req.EndTimeAvailable = until.UnixMilli()
	return req, nil
}

// parseUntil accepts HH:MM (today), +<duration> or RFC3339.
func parseUntil(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	invalid := &form.ValidationError{Kind: form.InvalidDate, Field: "EndTimeAvailable"}
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, invalid
		}
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	clock, err := time.ParseInLocation("15:04", s, loc)
	if err != nil {
		return time.Time{}, invalid
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// wait prints each transition until the controller leaves Loading or ctx ends.
func wait(ctx context.Context, c *pagestate.Controller, out io.Writer) pagestate.Snapshot {
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	var last pagestate.Snapshot
	for {
		select {
		case <-ctx.Done():
			return c.Snapshot()
		case snap, ok := <-updates:
			if !ok {
				return c.Snapshot()
			}
			if snap.State == pagestate.Loading && last.State != pagestate.Loading {
				_ = view.Fprint(out, view.For(snap, time.Local))
				fmt.Fprintf(out, "  (checking every %s, Ctrl-C to leave the queue)\n", c.PollInterval())
			}
			last = snap
			if snap.State != pagestate.Loading {
				return snap
			}
		}
	}
}
