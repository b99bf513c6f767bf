// Package view holds the participant-facing text for each page state, shared
// by the web templates and the terminal client.
package view

import (
	"fmt"
	"io"
	"time"

	"github.com/example/adlib/internal/pagestate"
)

type Page struct {
	Heading string
	Body    []string
}

// For returns the page shown for snap. loc formats the no-match deadline.
func For(snap pagestate.Snapshot, loc *time.Location) Page {
	if loc == nil {
		loc = time.Local
	}
	switch snap.State {
	case pagestate.Loading:
		return Page{
			Heading: "Finding you a match...",
			Body: []string{
				"This part may take some time as we wait for more people to enter the queue.",
				"We will send you an email and a calendar invite as soon as we find you a match.",
			},
		}
	case pagestate.Matched:
		return Page{
			Heading: "We found you a match!",
			Body: []string{
				fmt.Sprintf("%s is so excited to meet you!", snap.Match.MatchUsername),
				"Please check your calendar to find the event and meeting link and join to meet your new friend.",
			},
		}
	case pagestate.NoMatch:
		return Page{
			Heading: "Sorry, we could not find you a match :(",
			Body: []string{fmt.Sprintf(
				"It looks like you are only free until %s, and we could not find you a match to meet for %d minutes before then. Please try again later, and happy working!",
				snap.Match.EndTime().In(loc).Format("Mon Jan 2 15:04 MST"), snap.Match.Duration)},
		}
	case pagestate.Error:
		return Page{
			Heading: "Oops, something went wrong!",
			Body:    []string{"We apologize for the inconvenience. Please try again later!"},
		}
	case pagestate.ExitQueue:
		return Page{
			Heading: "We have removed you from the matching queue.",
			Body:    []string{"Thank you for using Ad-lib, we hope you try again later at your convenience!"},
		}
	default:
		return Page{
			Heading: "Meet someone new",
			Body:    []string{"Tell us when you are free and what you would like to chat about."},
		}
	}
}

// Fprint writes p as plain text.
func Fprint(w io.Writer, p Page) error {
	if _, err := fmt.Fprintln(w, p.Heading); err != nil {
		return err
	}
	for _, line := range p.Body {
		if _, err := fmt.Fprintln(w, "  "+line); err != nil {
			return err
		}
	}
	return nil
}
