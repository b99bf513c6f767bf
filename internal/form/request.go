package form

import (
	"sort"
	"time"
)

// SubmissionRequest is the payload sent as formDetails to add-participant.
type SubmissionRequest struct {
	EndTimeAvailable int64           `json:"endTimeAvailable"`
	Duration         int             `json:"duration" validate:"oneof=15 30 45 60"`
	Role             string          `json:"role" validate:"required,role"`
	ProductArea      string          `json:"productArea" validate:"required,productarea"`
	Interests        []string        `json:"interests" validate:"dive,interest"`
	MatchPreference  MatchPreference `json:"matchPreference" validate:"oneof=similar any different"`
	SavePreference   bool            `json:"savePreference"`
}

// Defaults mirror the initial form: 15 minutes, "any" match, save preferences.
func Defaults(now time.Time) SubmissionRequest {
	return SubmissionRequest{
		EndTimeAvailable: now.UnixMilli(),
		Duration:         15,
		Interests:        []string{},
		MatchPreference:  MatchAny,
		SavePreference:   true,
	}
}

// EndTime returns EndTimeAvailable as a time.
func (r SubmissionRequest) EndTime() time.Time {
	return time.UnixMilli(r.EndTimeAvailable)
}

// Normalized returns a copy with interests deduplicated and sorted.
func (r SubmissionRequest) Normalized() SubmissionRequest {
	seen := make(map[string]struct{}, len(r.Interests))
	out := make([]string, 0, len(r.Interests))
	for _, i := range r.Interests {
		if _, ok := seen[i]; ok || i == "" {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Strings(out)
	r.Interests = out
	if r.MatchPreference == "" {
		r.MatchPreference = MatchAny
	}
	return r
}
