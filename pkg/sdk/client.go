// Package sdk is the Go client for the Ringside scoring backend.
//
// Feed vendors embed it to push CV observations, judge tablet apps use
// it for manual entries, and production tooling uses it to drive the
// round lifecycle.
//
// Quick Start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL: "https://scoring.yourpromotion.com",
//	    Actor:   "cage-cam-3",
//	    APIKey:  os.Getenv("RINGSIDE_API_KEY"),
//	})
//
//	round, err := client.OpenRound(ctx, "ufc-301-main", 1)
//	_, err = client.SubmitEvent(ctx, round.RoundID, sdk.RawEvent{...})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the SDK configuration.
type Config struct {
	// BaseURL is the scoring backend endpoint (required)
	// Examples: "https://scoring.yourpromotion.com", "http://localhost:8080"
	BaseURL string

	// Actor identifies who is acting, for the audit trail (required).
	// Feed instances, judge IDs and tool names all work.
	Actor string

	// APIKey authenticates requests (required in production)
	APIKey string

	// Source tags submitted events when they carry no source of their
	// own: SourceCV, SourceJudge or SourceAnalytics. Default SourceCV.
	Source string

	// Timeout for backend calls (default 30s)
	Timeout time.Duration

	// OnRejected is called when the pipeline refuses an event
	OnRejected func(roundID string, apiErr *APIError)
}

// APIError is a structured backend refusal: a 4xx with a machine code.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"error,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ringside: %s (%s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("ringside: %s (status %d)", e.Message, e.StatusCode)
}

// Client talks to the scoring backend.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new SDK client.
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL: "https://scoring.example.com",
//	    Actor:   "octagon-cam-1",
//	    APIKey:  os.Getenv("RINGSIDE_API_KEY"),
//	})
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Source == "" {
		cfg.Source = SourceCV
	}
	if cfg.Actor == "" {
		cfg.Actor = fmt.Sprintf("sdk-%d", time.Now().UnixNano())
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// OpenRound creates the next round of a bout.
func (c *Client) OpenRound(ctx context.Context, boutID string, roundNum int) (*Round, error) {
	var round Round
	err := c.do(ctx, "POST", fmt.Sprintf("/api/v1/bouts/%s/rounds", boutID),
		map[string]interface{}{"round_num": roundNum}, &round)
	if err != nil {
		return nil, err
	}
	return &round, nil
}

// GetRound fetches the current state of a round.
func (c *Client) GetRound(ctx context.Context, roundID string) (*Round, error) {
	var round Round
	if err := c.do(ctx, "GET", "/api/v1/rounds/"+roundID, nil, &round); err != nil {
		return nil, err
	}
	return &round, nil
}

// SubmitEvent pushes one observation into the round. The returned raw
// message is the canonical event as admitted, after harmonization.
//
// A 422 means the pipeline refused the event; the error is an *APIError
// carrying the rejection code (UNKNOWN_EVENT_TYPE, DUPLICATE_EVENT,
// LOW_CONFIDENCE, ...). Refusals also trigger the OnRejected callback.
func (c *Client) SubmitEvent(ctx context.Context, roundID string, event RawEvent) (json.RawMessage, error) {
	var admitted json.RawMessage
	err := c.do(ctx, "POST",
		fmt.Sprintf("/api/v1/rounds/%s/events?source=%s", roundID, sourceParam(c.config.Source)),
		event, &admitted)
	if err != nil {
		var apiErr *APIError
		if c.config.OnRejected != nil &&
			errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			c.config.OnRejected(roundID, apiErr)
		}
		return nil, err
	}
	return admitted, nil
}

// SubmitBatch pushes a burst of observations in one call. Per-event
// rejections come back in the result rather than failing the batch.
func (c *Client) SubmitBatch(ctx context.Context, roundID string, events []RawEvent) (*BatchResult, error) {
	var result BatchResult
	err := c.do(ctx, "POST",
		fmt.Sprintf("/api/v1/rounds/%s/events/batch?source=%s", roundID, sourceParam(c.config.Source)),
		map[string]interface{}{"events": events}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ComputeScore runs a scoring pass without locking. Safe to call as
// often as an overlay refreshes.
func (c *Client) ComputeScore(ctx context.Context, roundID string) (*Verdict, error) {
	var verdict Verdict
	if err := c.do(ctx, "POST", fmt.Sprintf("/api/v1/rounds/%s/score", roundID), nil, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// Validate previews the pre-lock checks without attempting a lock.
func (c *Client) Validate(ctx context.Context, roundID string) (*ValidationReport, error) {
	var report ValidationReport
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/v1/rounds/%s/validate", roundID), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// LockRound seals the round. A refused lock is not an error: inspect
// result.Refused and result.Report for what the supervisor must fix.
func (c *Client) LockRound(ctx context.Context, roundID string) (*LockResult, error) {
	var result LockResult
	err := c.do(ctx, "POST", fmt.Sprintf("/api/v1/rounds/%s/lock", roundID), nil, &result)
	if err != nil {
		// The backend answers 409 with the refusal body
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict && result.Refused {
			return &result, nil
		}
		return nil, err
	}
	return &result, nil
}

// VerifyRound recomputes the locked round's event hash server-side and
// confirms it matches the sealed one.
func (c *Client) VerifyRound(ctx context.Context, roundID string) error {
	return c.do(ctx, "POST", fmt.Sprintf("/api/v1/rounds/%s/verify", roundID), nil, nil)
}

// do runs one backend call: marshal, authenticate, decode, and map
// non-2xx answers onto *APIError. out may be nil when the caller only
// needs the status.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ringside: failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("ringside: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Actor", c.config.Actor)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ringside: backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ringside: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		_ = json.Unmarshal(respBody, apiErr)
		// A refused lock answers 409 with the lock result as the body
		if out != nil {
			_ = json.Unmarshal(respBody, out)
		}
		return apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("ringside: failed to parse response: %w", err)
		}
	}
	return nil
}

func sourceParam(source string) string {
	switch source {
	case SourceJudge:
		return "judge"
	case SourceAnalytics:
		return "analytics"
	default:
		return "cv"
	}
}
