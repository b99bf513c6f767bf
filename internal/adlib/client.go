package adlib

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/example/adlib/internal/form"
)

const (
	addParticipantPath    = "/api/v1/add-participant"
	searchMatchPath       = "/api/v1/search-match"
	removeParticipantPath = "/api/v1/remove-participant"
	loadUserPath          = "/api/v1/load-user"

	removeParticipantRequest = "Remove Participant"
)

var (
	ErrEmptyResponse     = errors.New("adlib: empty response body")
	ErrMalformedResponse = errors.New("adlib: malformed response")
	ErrStatus            = errors.New("adlib: unexpected status")
)

// Client talks to the Ad-lib matching backend on behalf of one participant.
// The participant is identified by a header, the way the backend's
// identity-aware proxy forwards the logged-in user.
type Client struct {
	hc             *http.Client
	baseURL        string
	identityHeader string
	username       string
}

type Options struct {
	BaseURL        string
	IdentityHeader string
	Username       string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		hc:             hc,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		identityHeader: opts.IdentityHeader,
		username:       opts.Username,
	}
}

// ForUser returns a client sharing the transport but acting as username.
func (c *Client) ForUser(username string) *Client {
	cp := *c
	cp.username = username
	return &cp
}

func (c *Client) Username() string { return c.username }

// AddParticipant enters the participant into the matching queue.
func (c *Client) AddParticipant(ctx context.Context, req form.SubmissionRequest) error {
	body, err := json.Marshal(addParticipantBody{FormDetails: req})
	if err != nil {
		return errors.Wrap(err, "encode add-participant")
	}
	status, b, err := c.do(ctx, http.MethodPost, addParticipantPath, body)
	if err != nil {
		return errors.Wrap(err, "add-participant")
	}
	if status >= 400 {
		return errors.Wrapf(ErrStatus, "add-participant (status=%d)", status)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return errors.Wrap(ErrEmptyResponse, "add-participant")
	}
	return nil
}

// SearchMatch asks whether a match has been found. A response that does not
// decode into a known shape is reported as ErrMalformedResponse.
func (c *Client) SearchMatch(ctx context.Context) (PollResult, error) {
	status, b, err := c.do(ctx, http.MethodGet, searchMatchPath, nil)
	if err != nil {
		return PollResult{}, errors.Wrap(err, "search-match")
	}
	if status >= 400 {
		return PollResult{}, errors.Wrapf(ErrStatus, "search-match (status=%d)", status)
	}
	return DecodePollResult(b)
}

// DecodePollResult parses and checks a search-match body.
func DecodePollResult(b []byte) (PollResult, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return PollResult{}, errors.Wrap(ErrEmptyResponse, "search-match")
	}
	var res PollResult
	if err := json.Unmarshal(b, &res); err != nil {
		return PollResult{}, errors.Wrapf(ErrMalformedResponse, "search-match: %v", err)
	}
	switch res.MatchStatus {
	case StatusPending:
	case StatusMatched:
		if res.MatchUsername == "" {
			return PollResult{}, errors.Wrap(ErrMalformedResponse, "search-match: matched without matchUsername")
		}
	case StatusExpired:
		if res.EndTimeAvailable <= 0 {
			return PollResult{}, errors.Wrap(ErrMalformedResponse, "search-match: expired without endTimeAvailable")
		}
	default:
		return PollResult{}, errors.Wrapf(ErrMalformedResponse, "search-match: unknown matchStatus %q", res.MatchStatus)
	}
	return res, nil
}

// RemoveParticipant takes the participant out of the queue.
func (c *Client) RemoveParticipant(ctx context.Context) error {
	body, err := json.Marshal(removeParticipantBody{RemoveParticipantRequest: removeParticipantRequest})
	if err != nil {
		return errors.Wrap(err, "encode remove-participant")
	}
	status, b, err := c.do(ctx, http.MethodPost, removeParticipantPath, body)
	if err != nil {
		return errors.Wrap(err, "remove-participant")
	}
	if status >= 400 {
		return errors.Wrapf(ErrStatus, "remove-participant (status=%d)", status)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return errors.Wrap(ErrEmptyResponse, "remove-participant")
	}
	return nil
}

// LoadPreferences fetches the participant's saved form preferences.
func (c *Client) LoadPreferences(ctx context.Context) (Preferences, error) {
	status, b, err := c.do(ctx, http.MethodGet, loadUserPath, nil)
	if err != nil {
		return Preferences{}, errors.Wrap(err, "load-user")
	}
	if status >= 400 {
		return Preferences{}, errors.Wrapf(ErrStatus, "load-user (status=%d)", status)
	}
	var r loadUserResponse
	if err := json.Unmarshal(b, &r); err != nil {
		return Preferences{}, errors.Wrapf(ErrMalformedResponse, "load-user: %v", err)
	}
	if r.Existing != "true" {
		return Preferences{}, nil
	}
	return Preferences{
		Existing:        true,
		Duration:        r.Duration,
		Role:            r.Role,
		ProductArea:     r.ProductArea,
		Interests:       r.Interests,
		MatchPreference: form.MatchPreference(r.MatchPreference),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("accept", "application/json")
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.identityHeader != "" && c.username != "" {
		req.Header.Set(c.identityHeader, c.username)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}
