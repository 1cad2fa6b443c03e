package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hyqw-adapter/core/internal/statecache"
)

const (
	statesPath  = "/smart-api/api/device/states"
	controlPath = "/smart-api/api/device/control"
	profilePath = "/smart-api/api/home/profile"
)

// profileWarmupStreaks are the consecutive-empty-result counts at which
// the client nudges the backend with a profile fetch. The cloud side is
// known to return empty state lists until a profile request warms its
// session cache.
var profileWarmupStreaks = map[int]bool{3: true, 10: true}

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats is a read-only snapshot of request activity.
type Stats struct {
	TotalRequests      uint64    `json:"total_requests"`
	StatesRequests     uint64    `json:"states_requests"`
	ControlRequests    uint64    `json:"control_requests"`
	SuccessfulRequests uint64    `json:"successful_requests"`
	FailedRequests     uint64    `json:"failed_requests"`
	LastRequestAt      time.Time `json:"last_request_at"`
	LastSuccessAt      time.Time `json:"last_success_at"`
	LastStatus         string    `json:"last_status"`
}

// Config contains the cloud endpoint parameters.
type Config struct {
	// BaseURL is the cloud API origin, without trailing slash.
	BaseURL string

	// Token is the mobile-session token sent on every request.
	Token string

	// ProjectCode scopes requests to the site installation.
	ProjectCode string

	// DeviceSN identifies the site gateway unit.
	DeviceSN string

	// Timeout bounds each request.
	Timeout time.Duration
}

// Client talks to the vendor cloud's HTTP API.
//
// Two operations matter: fetching the complete device state list and
// issuing a single device control. Both are site-scoped by project code
// and gateway serial, authenticated with the mobile-session token scheme
// the vendor app uses.
type Client struct {
	cfg    Config
	http   *http.Client
	logger Logger

	mu          sync.Mutex
	emptyStreak int

	totalRequests      uint64
	statesRequests     uint64
	controlRequests    uint64
	successfulRequests uint64
	failedRequests     uint64
	lastRequestAt      time.Time
	lastSuccessAt      time.Time
	lastStatus         string
}

// New creates a Client for the given cloud endpoint.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// envelope is the cloud API response wrapper. code 0 means success.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// FetchStates retrieves the complete current state list for the site.
//
// An empty result is not an error; the cloud backend intermittently
// returns empty lists from a cold session cache, so consecutive empties
// trigger a profile warm-up request at known thresholds.
func (c *Client) FetchStates(ctx context.Context) ([]statecache.RawStateEntry, error) {
	c.beginRequest(&c.statesRequests)

	payload := map[string]any{
		"projectCode": c.cfg.ProjectCode,
		"deviceSn":    c.cfg.DeviceSN,
	}

	env, err := c.post(ctx, statesPath, payload)
	if err != nil {
		c.recordFailure(err)
		return nil, err
	}
	if env.Code != 0 {
		err := fmt.Errorf("%w: code %d: %s", ErrAPIError, env.Code, env.Message)
		c.recordFailure(err)
		return nil, err
	}

	var entries []statecache.RawStateEntry
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &entries); err != nil {
			err = fmt.Errorf("%w: %w", ErrBadResponse, err)
			c.recordFailure(err)
			return nil, err
		}
	}

	c.recordSuccess()
	c.trackEmptyResults(ctx, len(entries))

	return entries, nil
}

// ControlDevice issues one device control. The returned bool mirrors the
// cloud's accept/reject verdict; transport problems come back as errors.
func (c *Client) ControlDevice(ctx context.Context, st, si, fn, fv int) (bool, error) {
	c.beginRequest(&c.controlRequests)

	payload := map[string]any{
		"deviceSn":    c.cfg.DeviceSN,
		"st":          st,
		"si":          si,
		"fn":          fn,
		"fv":          fv,
		"projectCode": c.cfg.ProjectCode,
	}

	c.logger.Info("controlling device", "si", si, "fn", fn, "fv", fv)

	env, err := c.post(ctx, controlPath, payload)
	if err != nil {
		c.recordFailure(err)
		return false, err
	}
	if env.Code != 0 {
		c.recordFailure(fmt.Errorf("%w: code %d: %s", ErrAPIError, env.Code, env.Message))
		c.logger.Warn("device control rejected",
			"si", si,
			"code", env.Code,
			"message", env.Message,
		)
		return false, nil
	}

	c.recordSuccess()
	return true, nil
}

// WarmupProfile fetches the home profile. The response content is
// discarded; the request exists to prime the backend session cache.
func (c *Client) WarmupProfile(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+profilePath, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode)
	}

	c.logger.Debug("profile warm-up complete")
	return nil
}

// trackEmptyResults maintains the consecutive-empty counter and fires the
// warm-up at its thresholds.
func (c *Client) trackEmptyResults(ctx context.Context, entryCount int) {
	c.mu.Lock()
	if entryCount > 0 {
		c.emptyStreak = 0
		c.mu.Unlock()
		return
	}
	c.emptyStreak++
	streak := c.emptyStreak
	c.mu.Unlock()

	c.logger.Warn("state fetch returned empty result", "consecutive", streak)

	if profileWarmupStreaks[streak] {
		if err := c.WarmupProfile(ctx); err != nil {
			c.logger.Debug("profile warm-up failed", "error", err)
		}
	}
}

// post sends a JSON request and decodes the response envelope.
func (c *Client) post(ctx context.Context, path string, payload any) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}

	return &env, nil
}

// setHeaders applies the vendor app's request headers. The Authorization
// scheme is the mobile-client format the cloud expects, not a standard
// bearer token.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "mob;"+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
}

func (c *Client) beginRequest(counter *uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	*counter++
	c.lastRequestAt = time.Now()
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successfulRequests++
	c.lastSuccessAt = time.Now()
	c.lastStatus = "success"
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
	c.lastStatus = err.Error()
}

// Stats returns a snapshot of request counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		TotalRequests:      c.totalRequests,
		StatesRequests:     c.statesRequests,
		ControlRequests:    c.controlRequests,
		SuccessfulRequests: c.successfulRequests,
		FailedRequests:     c.failedRequests,
		LastRequestAt:      c.lastRequestAt,
		LastSuccessAt:      c.lastSuccessAt,
		LastStatus:         c.lastStatus,
	}
}
