package isul

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const (
	maxResponseBytes = 1 << 20 // 1 MB
	defaultUserAgent = "isul-sdk-go/1.0"
)

// ServerLogFunc observes traffic with the license service.
type ServerLogFunc func(status ServerStatus, severity LogSeverity, message, content string)

// APIClient communicates with the ISUL license service HTTP API.
// Transient failures are retried with exponential backoff behind a circuit breaker.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration // applied after all options
	userAgent  string
	productID  string
	tuning     Tuning
	breaker    *gobreaker.CircuitBreaker
	serverLog  ServerLogFunc
}

// NewAPIClient creates a client for the license service at apiURL.
func NewAPIClient(apiURL string, opts ...ClientOption) *APIClient {
	c := &APIClient{
		baseURL:   strings.TrimRight(apiURL, "/"),
		userAgent: defaultUserAgent,
		tuning:    DefaultTuning(),
	}
	c.timeout = c.tuning.RequestTimeout
	for _, opt := range opts {
		opt(c)
	}
	// If no custom HTTP client was provided, create one.
	// Apply timeout after all options so ordering doesn't matter.
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient.Timeout = c.timeout

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "isul-api",
		MaxRequests: 1,
		Timeout:     c.tuning.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.tuning.BreakerFailures
		},
		// Only transport failures count against the breaker; a rejected
		// license key is a healthy server answering.
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
	})
	return c
}

// BaseURL returns the API base URL.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// Activate exchanges a license key for an activation token bound to this machine.
func (c *APIClient) Activate(ctx context.Context, req ActivateRequest) (*ActivateResponse, error) {
	var wrapper struct {
		Data ActivateResponse `json:"data"`
	}
	if err := c.call(ctx, "/v1/activate", req, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Data.Token == "" {
		return nil, fmt.Errorf("%w: activate response without token", ErrServer)
	}
	return &wrapper.Data, nil
}

// Heartbeat renews an existing activation and returns a fresh token.
func (c *APIClient) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	var wrapper struct {
		Data HeartbeatResponse `json:"data"`
	}
	if err := c.call(ctx, "/v1/heartbeat", req, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Data.Token == "" {
		return nil, fmt.Errorf("%w: heartbeat response without token", ErrServer)
	}
	return &wrapper.Data, nil
}

// Deactivate releases the activation bound to req.Token.
func (c *APIClient) Deactivate(ctx context.Context, req DeactivateRequest) error {
	var wrapper struct {
		Data DeactivateResponse `json:"data"`
	}
	return c.call(ctx, "/v1/deactivate", req, &wrapper)
}

// call runs doJSON with retries for transient failures.
func (c *APIClient) call(ctx context.Context, path string, body, dest interface{}) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.tuning.RetryInitialInterval
	policy.MaxInterval = c.tuning.RetryMaxInterval
	policy.MaxElapsedTime = 0

	op := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.doJSON(ctx, path, body, dest)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrConnection, err))
		case !retryable(err):
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.tuning.MaxRetries), ctx)
	return backoff.Retry(op, b)
}

// doJSON performs a POST request with JSON body and decodes the response into dest.
// On non-2xx responses, it parses the server error format and returns a mapped error.
func (c *APIClient) doJSON(ctx context.Context, path string, body, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.productID != "" {
		req.Header.Set("X-Product-Id", c.productID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logServer(RequestSent, Programflow, "POST "+path, redactJSON(payload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logServer(ResponseReceived, Severe, "POST "+path+" failed", err.Error())
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrConnection, err)
	}

	severity := Programflow
	if resp.StatusCode >= 400 {
		severity = Medium
	}
	c.logServer(ResponseReceived, severity, fmt.Sprintf("POST %s -> %d", path, resp.StatusCode), redactJSON(respBody))

	if resp.StatusCode >= 400 {
		return c.parseError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrServer, err)
	}
	return nil
}

// parseError parses the server error response format:
// {"error": {"code": "...", "message": "..."}}
func (c *APIClient) parseError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       "UNKNOWN",
			Message:    string(body),
		}
	}
	return mapAPIError(&APIError{
		StatusCode: statusCode,
		Code:       errResp.Error.Code,
		Message:    errResp.Error.Message,
	})
}

func (c *APIClient) logServer(status ServerStatus, severity LogSeverity, message, content string) {
	if c.serverLog != nil {
		c.serverLog(status, severity, message, content)
	}
}

// sensitiveFields are masked before traffic reaches a ServerLogFunc.
var sensitiveFields = []string{"license_key", "token"}

func redactJSON(raw []byte) string {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	redactMap(m)
	out, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(out)
}

func redactMap(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]interface{}:
			redactMap(val)
		case string:
			for _, f := range sensitiveFields {
				if k == f {
					m[k] = maskSecret(val)
				}
			}
		}
	}
}
