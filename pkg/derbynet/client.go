package derbynet

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/rs/zerolog"
)

var (
	// ErrLoginFailed is returned when DerbyNet rejects the timer credentials.
	ErrLoginFailed = errors.New("derbynet login failed")
	// ErrActionFailed is returned when an action still fails after a fresh login.
	ErrActionFailed = errors.New("derbynet action failed")
	// ErrNotConfirmed is returned when the response carries neither success nor failure.
	ErrNotConfirmed = errors.New("derbynet action not confirmed")
	// ErrUnauthorized is returned when DerbyNet refuses the current session.
	ErrUnauthorized = errors.New("derbynet session not authorized")
)

const maxResponseSize = 1 << 20

var (
	outcomeCodePath = jp.C("outcome").C("code")
	outcomeDescPath = jp.C("outcome").C("description")
)

// API is the subset of the DerbyNet action.php interface a timer uses.
type API interface {
	Login(ctx context.Context) error
	SendTimerHeartbeat(ctx context.Context) error
	SendStart(ctx context.Context) error
	SendFinish(ctx context.Context, roundID, heat int, laneTimes map[int]float64) error
	GetRaceStatus(ctx context.Context) (*RaceStatus, error)
}

// Client talks to a DerbyNet server over its action.php endpoint. The
// session cookie from the timer login is kept in a cookie jar.
type Client struct {
	endpoint string
	role     string
	password string
	http     *http.Client
	logger   zerolog.Logger

	mu       sync.Mutex
	loggedIn bool
}

// NewClient creates a client for the action.php endpoint at endpoint.
func NewClient(endpoint, role, password string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid derbynet url %q: %w", endpoint, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoint: endpoint,
		role:     role,
		password: password,
		http:     &http.Client{Timeout: timeout, Jar: jar},
		logger:   logger,
	}, nil
}

// Login authenticates as the timer role.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"action":   {"role.login"},
		"name":     {c.role},
		"password": {c.password},
	}
	body, err := c.post(ctx, form)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	doc, err := oj.Parse(body)
	if err != nil {
		return fmt.Errorf("%w: unreadable response: %v", ErrLoginFailed, err)
	}
	if code := asString(outcomeCodePath.First(doc)); code != "success" {
		return fmt.Errorf("%w: %s %s", ErrLoginFailed, code, asString(outcomeDescPath.First(doc)))
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()

	c.logger.Info().Str("role", c.role).Msg("Logged in to DerbyNet")
	return nil
}

// SendTimerHeartbeat tells DerbyNet the timer is alive.
func (c *Client) SendTimerHeartbeat(ctx context.Context) error {
	return c.timerMessage(ctx, "HEARTBEAT", nil)
}

// SendStart reports that the heat has started.
func (c *Client) SendStart(ctx context.Context) error {
	return c.timerMessage(ctx, "STARTED", nil)
}

// SendFinish reports the elapsed time of every lane in a heat.
func (c *Client) SendFinish(ctx context.Context, roundID, heat int, laneTimes map[int]float64) error {
	extra := url.Values{
		"roundid": {strconv.Itoa(roundID)},
		"heat":    {strconv.Itoa(heat)},
	}
	for lane, t := range laneTimes {
		extra.Set("lane"+strconv.Itoa(lane), strconv.FormatFloat(t, 'f', 3, 64))
	}
	return c.timerMessage(ctx, "FINISHED", extra)
}

func (c *Client) timerMessage(ctx context.Context, message string, extra url.Values) error {
	form := url.Values{
		"action":  {"timer-message"},
		"message": {message},
	}
	for k, v := range extra {
		form[k] = v
	}

	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	ok, err := c.postAction(ctx, form)
	if err != nil {
		return err
	}
	if ok {
		c.logger.Debug().Str("message", message).Msg("Timer message accepted")
		return nil
	}

	// A failure usually means the session expired.
	c.logger.Warn().Str("message", message).Msg("Timer message rejected, logging in again")
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()

	if err := c.Login(ctx); err != nil {
		return err
	}
	ok, err = c.postAction(ctx, form)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionFailed, message)
	}
	return nil
}

func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	loggedIn := c.loggedIn
	c.mu.Unlock()
	if loggedIn {
		return nil
	}
	return c.Login(ctx)
}

// postAction posts form and reports whether DerbyNet answered success (true)
// or failure (false).
func (c *Client) postAction(ctx context.Context, form url.Values) (bool, error) {
	body, err := c.post(ctx, form)
	if err != nil {
		return false, err
	}
	return parseOutcome(body)
}

type actionResponse struct {
	Success *struct{} `xml:"success"`
	Failure *struct {
		Code string `xml:"code,attr"`
		Text string `xml:",chardata"`
	} `xml:"failure"`
}

func parseOutcome(body []byte) (bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		doc, err := oj.Parse(trimmed)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrNotConfirmed, err)
		}
		switch asString(outcomeCodePath.First(doc)) {
		case "success":
			return true, nil
		case "":
			return false, ErrNotConfirmed
		default:
			return false, nil
		}
	}

	var resp actionResponse
	if err := xml.Unmarshal(trimmed, &resp); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotConfirmed, err)
	}
	switch {
	case resp.Success != nil:
		return true, nil
	case resp.Failure != nil:
		return false, nil
	default:
		return false, ErrNotConfirmed
	}
}

// GetRaceStatus polls the coordinator view of the current heat. The poll
// needs the timer session; a refused session is renewed once.
func (c *Client) GetRaceStatus(ctx context.Context) (*RaceStatus, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	body, err := c.pollCoordinator(ctx)
	if errors.Is(err, ErrUnauthorized) {
		c.logger.Warn().Err(err).Msg("Race status refused, logging in again")
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()

		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		body, err = c.pollCoordinator(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to poll race status: %w", err)
	}
	return ParseRaceStatus(body)
}

func (c *Client) pollCoordinator(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("query", "poll.coordinator")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// An expired session answers with an empty body or a failed outcome
	// instead of the heat.
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnauthorized)
	}
	if doc, err := oj.Parse(trimmed); err == nil {
		if code := asString(outcomeCodePath.First(doc)); code != "" && code != "success" {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, code)
		}
	}
	return trimmed, nil
}

func (c *Client) post(ctx context.Context, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return body, nil
}
