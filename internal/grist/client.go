package grist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/models"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/observability"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/reqctx"
)

// DefaultBaseURL is the hosted Grist instance.
const DefaultBaseURL = "https://docs.getgrist.com"

// maxBodyBytes caps how much of a records response is read.
const maxBodyBytes = 32 << 20

// RecordFetcher reads the pathogen table.
type RecordFetcher interface {
	FetchRecords(ctx context.Context) ([]models.Record, error)
	Ping(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrTableNotFound    = errors.New("document or table not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Client reads records from one Grist document table.
type Client struct {
	apiKey         string
	baseURL        string
	docID          string
	tableID        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	policy         CoordinatePolicy
	breaker        *circuitbreaker.CircuitBreaker
}

// NewClient returns a Client with 3 attempts, 100ms base and 2s max backoff.
func NewClient(apiKey, baseURL, docID, tableID string, timeout time.Duration) (*Client, error) {
	return NewClientWithRetry(apiKey, baseURL, docID, tableID, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewClientWithRetry(apiKey, baseURL, docID, tableID string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if strings.TrimSpace(docID) == "" || strings.TrimSpace(tableID) == "" {
		return nil, fmt.Errorf("grist: document and table IDs are required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("grist: invalid base URL: %w", err)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &Client{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		docID:          docID,
		tableID:        tableID,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		policy:         CoordinatesTruthy,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every upstream attempt through cb.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// SetCoordinatePolicy changes which coordinates count as present.
func (c *Client) SetCoordinatePolicy(p CoordinatePolicy) {
	c.policy = p
}

// Key identifies the table this client reads; used as the dataset cache key.
func (c *Client) Key() string {
	return c.docID + "/" + c.tableID
}

// FetchRecords performs one logical read of the table, retrying transient failures.
func (c *Client) FetchRecords(ctx context.Context) ([]models.Record, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.GristAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var records []models.Record
		call := func() error {
			var err error
			records, err = c.callAPI(ctx)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return records, nil
		}

		lastErr = err
		if !c.isRetryable(ctx, err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *Client) callAPI(ctx context.Context) ([]models.Record, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, nil)
	if err != nil {
		observability.GristAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.GristAPICallsTotal.WithLabelValues("error").Inc()
		observability.GristAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.GristAPICallsTotal.WithLabelValues(status).Inc()
	observability.GristAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	records, dropped, err := parseRecords(body, c.policy)
	if err != nil {
		return nil, err
	}
	for reason, n := range dropped {
		observability.RecordsDroppedTotal.WithLabelValues(reason).Add(float64(n))
	}
	return records, nil
}

func (c *Client) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *Client) recordsURL() string {
	return fmt.Sprintf("%s/api/docs/%s/tables/%s/records", c.baseURL, url.PathEscape(c.docID), url.PathEscape(c.tableID))
}

func (c *Client) buildRequest(ctx context.Context, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.recordsURL())
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if corrID := reqctx.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrTableNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Ping reads a single row to confirm the key, document and table are valid.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, url.Values{"limit": {"1"}})
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return handleErrorResponse(resp)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}
