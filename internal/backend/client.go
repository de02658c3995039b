// Package backend talks to the coaching backend: the session lifecycle
// (create, start, stop, delete), audio and text submission, and live stats.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexiqai/speech-coach/internal/apperr"
	"github.com/lexiqai/speech-coach/internal/config"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"github.com/lexiqai/speech-coach/internal/stats"
	"github.com/rs/zerolog"
)

const maxResponseBytes = 1 << 20

// ResponseError is a response that arrived but did not carry success:true
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected request (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("backend rejected request (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client is the coaching backend client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// NewClient creates a backend client from configuration
func NewClient(cfg *config.Config) *Client {
	logger := observability.Component("backend")

	breaker := resilience.NewCircuitBreaker(
		"coach-backend",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		if to == resilience.StateOpen {
			observability.IncrementCircuitBreakerFailures(name)
		}
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	return &Client{
		baseURL:    strings.TrimRight(cfg.BackendURL, "/"),
		httpClient: &http.Client{Timeout: cfg.BackendRequestTimeout()},
		breaker:    breaker,
		retry:      retry,
		logger:     logger,
	}
}

// CircuitCheck reports the backend unready while its circuit breaker is open
func (c *Client) CircuitCheck(ctx context.Context) (bool, error) {
	if state := c.breaker.GetState(); state == resilience.StateOpen {
		return false, fmt.Errorf("circuit %s is %s", c.breaker.Name(), state)
	}
	return true, nil
}

// Create asks the backend for a new session and returns its id
func (c *Client) Create(ctx context.Context) (string, error) {
	var resp createResponse
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, "create", http.MethodPost, "/session", nil, &resp)
	})
	if err != nil {
		return "", apperr.Session("create", err)
	}
	if resp.SessionID == "" {
		return "", apperr.Session("create", errors.New("response carried no session_id"))
	}
	return resp.SessionID, nil
}

// Start marks the session as recording
func (c *Client) Start(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, "start", http.MethodPost, sessionPath(sessionID, "start"), nil, nil); err != nil {
		return apperr.Session("start", err)
	}
	return nil
}

// Stop ends recording. The analysis is nil when the backend returned none.
func (c *Client) Stop(ctx context.Context, sessionID string) (*FinalAnalysis, error) {
	var resp stopResponse
	if err := c.do(ctx, "stop", http.MethodPost, sessionPath(sessionID, "stop"), nil, &resp); err != nil {
		return nil, apperr.Session("stop", err)
	}
	return resp.Analysis, nil
}

// Delete removes the session from the backend
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.do(ctx, "delete", http.MethodDelete, sessionPath(sessionID, ""), nil, nil)
	})
	if err != nil {
		return apperr.Session("delete", err)
	}
	return nil
}

// PostAudio submits a chunk of PCM and/or a final transcript segment and
// returns the live stats the backend computed, if any.
func (c *Client) PostAudio(ctx context.Context, sessionID string, post AudioPost) (stats.Update, error) {
	body := audioRequest{TextChunk: post.TextChunk}
	if len(post.PCM) > 0 {
		body.AudioData = base64.StdEncoding.EncodeToString(post.PCM)
	}

	var resp statsResponse
	if err := c.do(ctx, "audio", http.MethodPost, sessionPath(sessionID, "audio"), body, &resp); err != nil {
		return stats.Update{}, err
	}
	if resp.LiveStats == nil {
		return stats.Update{}, nil
	}
	return *resp.LiveStats, nil
}

// Stats fetches the current live stats of the session
func (c *Client) Stats(ctx context.Context, sessionID string) (stats.Update, error) {
	var resp statsResponse
	if err := c.do(ctx, "stats", http.MethodGet, sessionPath(sessionID, "stats"), nil, &resp); err != nil {
		return stats.Update{}, err
	}
	if resp.LiveStats == nil {
		return stats.Update{}, nil
	}
	return *resp.LiveStats, nil
}

// Ping checks that the backend host answers its health endpoint
func (c *Client) Ping(ctx context.Context) (bool, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false, err
	}
	u.Path = "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health returned HTTP %d", resp.StatusCode)
	}
	return true, nil
}

func sessionPath(sessionID, action string) string {
	p := "/session/" + url.PathEscape(sessionID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) withRetry(ctx context.Context, fn resilience.RetryableFunc) error {
	return resilience.Retry(ctx, fn, c.retry, retryable)
}

func retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.StatusCode >= http.StatusInternalServerError || re.StatusCode == http.StatusTooManyRequests
	}
	return resilience.IsRetryableNetworkError(err)
}

// countsAgainstBreaker excludes rejections that say nothing about backend health
func countsAgainstBreaker(err error) bool {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

// do performs one request and decodes the envelope. Every failure is a
// Transport error for op.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	start := time.Now()

	err := c.breaker.Call(func() error {
		return c.roundTrip(ctx, method, path, in, out)
	}, countsAgainstBreaker)

	observability.RecordBackendRequest(op, start, err == nil)
	if err != nil {
		c.logger.Debug().
			Err(err).
			Str("operation", op).
			Dur("elapsed", time.Since(start)).
			Msg("Backend request failed")
		observability.RecordError("transport", "backend")
		return apperr.Transport(op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &ResponseError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("malformed response: %w", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return &ResponseError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("malformed response: %w", err)
		}
	}
	return nil
}
