package pagestate

import (
	"errors"
	"time"
)

// State is the view currently shown to the participant.
type State string

const (
	Form      State = "form"
	Loading   State = "loading"
	Matched   State = "matched"
	NoMatch   State = "no-match"
	Error     State = "error"
	ExitQueue State = "exit-queue"
)

var ErrInvalidTransition = errors.New("pagestate: invalid transition")

// Parse accepts exactly the six persisted values.
func Parse(s string) (State, bool) {
	switch st := State(s); st {
	case Form, Loading, Matched, NoMatch, Error, ExitQueue:
		return st, true
	}
	return "", false
}

// Terminal states never re-enter polling; only Reset leaves them.
func (s State) Terminal() bool {
	switch s {
	case Matched, NoMatch, Error, ExitQueue:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// MatchInfo carries what the terminal views display.
type MatchInfo struct {
	MatchUsername    string `json:"matchUsername,omitempty"`
	Duration         int    `json:"duration,omitempty"`
	EndTimeAvailable int64  `json:"endTimeAvailable,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

func (m MatchInfo) EndTime() time.Time { return time.UnixMilli(m.EndTimeAvailable) }

type Snapshot struct {
	State State     `json:"state"`
	Match MatchInfo `json:"match"`
}
