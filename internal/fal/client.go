package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrRelayHostNotAllowed is returned by Relay for URLs outside the allow list.
var ErrRelayHostNotAllowed = errors.New("relay host not allowed")

type Config struct {
	APIKey       string
	QueueURL     string
	PollInterval time.Duration
	MaxPolls     int
	Timeout      time.Duration
	AllowedHosts []string
}

// Client talks to the hosted workflow queue: submit, poll status, fetch result.
type Client struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	allowedHosts map[string]struct{}
	httpClient   *http.Client
	log          zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 300
	}
	hosts := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		hosts[strings.ToLower(h)] = struct{}{}
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.QueueURL, "/"),
		pollInterval: interval,
		maxPolls:     maxPolls,
		allowedHosts: hosts,
		// Applies per request; a whole run is bounded by the caller's context.
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position"`
	Error         string `json:"error"`
}

// Result is the output of a completed request.
type Result struct {
	RequestID string
	Output    json.RawMessage
}

// RequestError is a failure after the queue accepted the request.
type RequestError struct {
	RequestID string
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s: %v", e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// RequestIDOf returns the queue request id carried by err, or "".
func RequestIDOf(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.RequestID
	}
	return ""
}

// Run submits input to app and blocks until the request completes,
// returning the raw JSON result. Failures after submission are
// *RequestError values.
func (c *Client) Run(ctx context.Context, app string, input map[string]any) (*Result, error) {
	sub, err := c.submit(ctx, app, input)
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}
	if err := c.waitForCompletion(ctx, sub); err != nil {
		return nil, &RequestError{RequestID: sub.RequestID, Err: err}
	}
	output, err := c.fetchResult(ctx, sub)
	if err != nil {
		return nil, &RequestError{RequestID: sub.RequestID, Err: err}
	}
	return &Result{RequestID: sub.RequestID, Output: output}, nil
}

func (c *Client) submit(ctx context.Context, app string, input map[string]any) (*submitResponse, error) {
	fullURL := c.baseURL + "/" + strings.Trim(app, "/")
	c.log.Info().Str("url", fullURL).Str("app", app).Msg("submitting workflow request")

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	rawBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var sub submitResponse
	if err := json.Unmarshal(rawBody, &sub); err != nil {
		return nil, fmt.Errorf("decode submit response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if sub.RequestID == "" {
		return nil, fmt.Errorf("empty request_id in response")
	}
	if sub.StatusURL == "" {
		sub.StatusURL = fullURL + "/requests/" + sub.RequestID + "/status"
	}
	if sub.ResponseURL == "" {
		sub.ResponseURL = fullURL + "/requests/" + sub.RequestID
	}

	c.log.Info().Str("request_id", sub.RequestID).Msg("workflow request queued")
	return &sub, nil
}

func (c *Client) waitForCompletion(ctx context.Context, sub *submitResponse) error {
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.StatusURL, nil)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		rawBody, err := c.do(req)
		if err != nil {
			return fmt.Errorf("poll status: %w", err)
		}

		var status statusResponse
		if err := json.Unmarshal(rawBody, &status); err != nil {
			return fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}

		switch status.Status {
		case "COMPLETED":
			if status.Error != "" {
				return fmt.Errorf("workflow failed: %s", status.Error)
			}
			c.log.Info().Str("request_id", sub.RequestID).Int("attempt", attempt+1).Msg("workflow request completed")
			return nil
		case "IN_QUEUE", "IN_PROGRESS":
			if attempt%10 == 0 {
				ev := c.log.Debug().Str("request_id", sub.RequestID).Str("status", status.Status).Int("attempt", attempt+1)
				if status.QueuePosition != nil {
					ev = ev.Int("queue_position", *status.QueuePosition)
				}
				ev.Msg("workflow request waiting")
			}
		default:
			return fmt.Errorf("unknown request status: %q", status.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return fmt.Errorf("workflow timeout after %d polls", c.maxPolls)
}

func (c *Client) fetchResult(ctx context.Context, sub *submitResponse) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.ResponseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	rawBody, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	if !json.Valid(rawBody) {
		return nil, fmt.Errorf("result is not valid json (body=%s)", truncateBody(rawBody))
	}
	return json.RawMessage(rawBody), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error().Int("status", resp.StatusCode).Str("url", req.URL.Redacted()).Str("body", truncateBody(rawBody)).Msg("workflow api error")
		return nil, fmt.Errorf("workflow api error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}
	return rawBody, nil
}

// RelayResponse is an upstream reply passed through verbatim.
type RelayResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Relay performs an authenticated GET against rawURL, which must be an
// https URL on an allowed host, and returns the upstream reply unchanged.
func (c *Client) Relay(ctx context.Context, rawURL string) (*RelayResponse, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("%w: invalid url", ErrRelayHostNotAllowed)
	}
	if target.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrRelayHostNotAllowed, target.Scheme)
	}
	if _, ok := c.allowedHosts[strings.ToLower(target.Hostname())]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRelayHostNotAllowed, target.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read relay body: %w", err)
	}
	return &RelayResponse{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
