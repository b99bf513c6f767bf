package adlib

import (
	"time"

	"github.com/example/adlib/internal/form"
)

// MatchStatus is the wire value of search-match's matchStatus.
type MatchStatus string

const (
	StatusPending MatchStatus = "false"
	StatusMatched MatchStatus = "true"
	StatusExpired MatchStatus = "expired"
)

// PollResult is one search-match response.
type PollResult struct {
	MatchStatus      MatchStatus `json:"matchStatus"`
	MatchUsername    string      `json:"matchUsername,omitempty"`
	Duration         int         `json:"duration,omitempty"`
	EndTimeAvailable int64       `json:"endTimeAvailable,omitempty"`
}

func (p PollResult) EndTime() time.Time { return time.UnixMilli(p.EndTimeAvailable) }

// Preferences is the load-user response. Existing is false for first-time users.
type Preferences struct {
	Existing        bool
	Duration        int
	Role            string
	ProductArea     string
	Interests       []string
	MatchPreference form.MatchPreference
}

type addParticipantBody struct {
	FormDetails form.SubmissionRequest `json:"formDetails"`
}

type removeParticipantBody struct {
	RemoveParticipantRequest string `json:"removeParticipantRequest"`
}

type loadUserResponse struct {
	Existing        string   `json:"existing"`
	Duration        int      `json:"duration"`
	Role            string   `json:"role"`
	ProductArea     string   `json:"productArea"`
	Interests       []string `json:"interests"`
	MatchPreference string   `json:"matchPreference"`
}
