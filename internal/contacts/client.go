package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ClientConfig configures the HTTP directory client.
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	// BaseBackoff is the wait before the first retry; it doubles per attempt.
	BaseBackoff time.Duration
}

// Client queries a remote contact directory:
//
//	GET <endpoint>?number=<number>  ->  200 {"name": "..."} | 404
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	semaphore  chan struct{}

	totalRequests  uint64
	failedRequests uint64
	totalRetries   uint64
	mu             sync.RWMutex
}

// ClientStats are counters of the client.
type ClientStats struct {
	TotalRequests  uint64 `json:"total_requests"`
	FailedRequests uint64 `json:"failed_requests"`
	TotalRetries   uint64 `json:"total_retries"`
	ActiveRequests int    `json:"active_requests"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewClient creates a directory client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 500 * time.Millisecond
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: config.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

func (c *Client) LookupName(ctx context.Context, number string) (string, bool, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", false, ctx.Err()
	}

	c.count(&c.totalRequests)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.count(&c.totalRetries)

			backoff := c.config.BaseBackoff << (attempt - 1)
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", false, ctx.Err()
			}
		}

		name, ok, err := c.doRequest(ctx, number)
		if err == nil {
			return name, ok, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}

	c.count(&c.failedRequests)
	return "", false, fmt.Errorf("contact lookup failed: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, number string) (string, bool, error) {
	u, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return "", false, err
	}
	q := u.Query()
	q.Set("number", Normalize(number))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "CallRecorder/1.0")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", false, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", false, &statusError{code: resp.StatusCode, body: string(body)}
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if payload.Name == "" {
		return "", false, nil
	}
	return payload.Name, true, nil
}

// isRetryable reports whether a failed attempt may succeed when repeated:
// timeouts, network errors, 429 and 5xx responses.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) count(field *uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*field++
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		TotalRetries:   c.totalRetries,
		ActiveRequests: len(c.semaphore),
	}
}

// Close waits for in-flight lookups to finish.
func (c *Client) Close() error {
	for i := 0; i < cap(c.semaphore); i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
