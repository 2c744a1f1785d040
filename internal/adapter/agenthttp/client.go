// Package agenthttp provides an HTTP client for the external agent executor.
package agenthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/action"
	"github.com/Strob0t/phasegate/internal/logger"
	"github.com/Strob0t/phasegate/internal/port/executor"
	"github.com/Strob0t/phasegate/internal/resilience"
)

// maxResponseBytes caps how much of an executor response is read.
const maxResponseBytes = 4 << 20

// Client implements executor.Executor by POSTing to {baseURL}/execute.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates an executor client. Each call is bounded by timeout in
// addition to the caller's context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: &http.Client{Transport: otel.Transport(nil)},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Execute runs one admitted action. Transport failures, 5xx responses and an
// open circuit are reported as domain.ErrUpstreamExecutor.
func (c *Client) Execute(ctx context.Context, req executor.Request) (*action.ExecutionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var result action.ExecutionResult
	call := func(ctx context.Context) error {
		data, err := c.post(ctx, "/execute", body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("decode execute response: %w", err)
		}
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamExecutor, err)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("executor error %d: %s", resp.StatusCode, string(data))
	case resp.StatusCode >= 400:
		return nil, resilience.Permanent(fmt.Errorf("executor rejected request %d: %s", resp.StatusCode, string(data)))
	}
	return data, nil
}
