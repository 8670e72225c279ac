package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits; the gateway is a single host
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// defaults applied to zero-valued [Config] fields
const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
)

// gateway API routes
const (
	fuelLevelPath  = "/api/v1/vehicle/data/fuel_level"
	headlightsPath = "/api/v1/vehicle/lighting/headlights"
	fuelStreamPath = "/api/v1/vehicle/stream/fuel_level"
)

// Config holds the settings for a [Client].
type Config struct {
	// BaseURL is the gateway root, e.g. "http://localhost:8080".
	BaseURL string

	// Timeout bounds each individual request attempt. Defaults to 10s.
	Timeout time.Duration

	// MaxRetries is the total number of attempts for one-shot requests.
	// Defaults to 3.
	MaxRetries int

	// RetryDelay is the fixed wait between attempts. Defaults to 1s.
	// A negative value disables the wait.
	RetryDelay time.Duration

	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter's bucket size. Defaults to 1 when RateLimit is set.
	Burst int
}

// Client talks to the vehicle gateway over HTTP.
//
// One-shot calls ([Client.FetchFuelLevel], [Client.FetchHeadlightState],
// [Client.SetHeadlightState]) are retried on connection failures and 5xx
// responses with a fixed delay between attempts. Client errors (4xx),
// malformed payloads and API-reported errors fail immediately.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a gateway [Client] from cfg, applying defaults to zero
// values. Timeouts are applied per attempt via context, not as a global
// client timeout, so the same client can hold long-lived streams.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		limiter:    limiter,
		logger:     logger,
	}
}

// FetchFuelLevel returns the gateway's current fuel level payload,
// shaped {"data": {"level_percent": N}}.
func (c *Client) FetchFuelLevel(ctx context.Context) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, fuelLevelPath, nil)
	if err != nil {
		c.logger.Error("error getting fuel level", "error", err)
		return nil, err
	}
	return data, nil
}

// FetchHeadlightState returns the gateway's current headlight payload,
// shaped {"data": {"headlight_state": bool}}.
func (c *Client) FetchHeadlightState(ctx context.Context) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, headlightsPath, nil)
	if err != nil {
		c.logger.Error("error getting headlight state", "error", err)
		return nil, err
	}
	return data, nil
}

// SetHeadlightState switches the headlights on or off.
//
// state normally comes straight from a decoded JSON body; anything other
// than a bool is rejected with a [ValidationError] before any network call.
func (c *Client) SetHeadlightState(ctx context.Context, state any) (json.RawMessage, error) {
	on, ok := state.(bool)
	if !ok {
		err := &ValidationError{Field: "turn_on", Reason: "headlight state must be a boolean"}
		c.logger.Error("validation error", "error", err, "value", state)
		return nil, err
	}

	c.logger.Debug("setting headlight state", "turn_on", on)
	data, err := c.do(ctx, http.MethodPut, headlightsPath, map[string]bool{"turn_on": on})
	if err != nil {
		c.logger.Error("error setting headlight state", "error", err)
		return nil, err
	}
	return data, nil
}

// Close closes idle connections in the client's pool. The client remains
// usable afterwards. Safe to call on a nil client.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// do performs a one-shot request with the retry policy and returns the
// validated JSON payload.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &RequestError{Msg: "failed to encode request body", Err: err}
		}
	}

	var data json.RawMessage
	err := c.retry(ctx, method+" "+path, func(ctx context.Context) error {
		var err error
		data, err = c.attempt(ctx, method, path, payload)
		return err
	})
	return data, err
}

// retry runs fn up to maxRetries times. Non-retryable errors and context
// cancellation end the loop early; otherwise the last error is returned.
func (c *Client) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		c.logger.Debug("gateway request", "op", op, "attempt", attempt, "max_retries", c.maxRetries)

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		if !isRetryable(err) {
			return err
		}

		lastErr = err
		c.logger.Warn("gateway request failed",
			"op", op,
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"error", err,
		)

		if attempt < c.maxRetries && c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-timer.C:
			}
		}
	}

	c.logger.Error("all gateway attempts failed", "op", op, "max_retries", c.maxRetries)
	return lastErr
}

// attempt performs a single request bounded by the client timeout.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (json.RawMessage, error) {
	op := method + " " + path

	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &RequestError{Msg: "failed to create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(resp.StatusCode, data)
	}

	return decodePayload(data)
}

// wait blocks on the rate limiter, if one is configured.
func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &ConnectionError{Op: op, Err: fmt.Errorf("rate limit wait: %w", err)}
	}
	return nil
}

// statusError converts an HTTP error status into a [RequestError].
func statusError(code int, body []byte) *RequestError {
	msg := fmt.Sprintf("HTTP error %d", code)
	if detail := strings.TrimSpace(string(body)); detail != "" {
		if len(detail) > 200 {
			detail = detail[:200]
		}
		msg += ": " + detail
	}
	return &RequestError{
		StatusCode: code,
		Msg:        msg,
		Retryable:  code >= http.StatusInternalServerError,
	}
}

// decodePayload validates a gateway response body: it must be a JSON object
// and must not carry a truthy "error" field.
func decodePayload(data []byte) (json.RawMessage, error) {
	var envelope struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &RequestError{Msg: "invalid JSON response", Err: err}
	}
	if msg := apiErrorMessage(envelope.Error); msg != "" {
		return nil, &RequestError{Msg: "API error: " + msg}
	}
	return json.RawMessage(data), nil
}

// apiErrorMessage returns the message for a truthy "error" value, or "".
func apiErrorMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case bool:
		if e {
			return "true"
		}
		return ""
	case float64:
		if e == 0 {
			return ""
		}
		return fmt.Sprint(e)
	case map[string]any:
		if len(e) == 0 {
			return ""
		}
	case []any:
		if len(e) == 0 {
			return ""
		}
	}
	encoded, _ := json.Marshal(v)
	return string(encoded)
}
