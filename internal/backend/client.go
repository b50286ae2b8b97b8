// Package backend is the HTTP client the operation handlers use to reach the
// task store.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DefaultPoolSize    = 16
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 200 * time.Millisecond
)

type Options struct {
	BaseURL string
	// PoolSize bounds the number of connections, and therefore the number of
	// concurrent calls, to the store.
	PoolSize int
	// Timeout bounds every single attempt.
	Timeout time.Duration
	// MaxAttempts caps attempts for idempotent reads. Writes get one attempt.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between read retries.
	Backoff time.Duration
	Logger  *slog.Logger
}

type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", opts.BaseURL)
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = opts.PoolSize
	transport.MaxIdleConnsPerHost = opts.PoolSize
	transport.MaxIdleConns = opts.PoolSize

	return &Client{
		baseURL:     base,
		httpClient:  &http.Client{Transport: transport, Timeout: opts.Timeout},
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		logger:      opts.Logger,
	}, nil
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// errorBody is what the store sends alongside 4xx responses.
type errorBody struct {
	Detail string `json:"detail"`
}

// do runs one logical call. GET is retried on transport errors and 5xx with
// linear backoff, every other verb is attempted exactly once.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return status.Errorf(codes.Internal, "failed to encode %s %s body: %v", method, path, err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.maxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * c.backoff
			c.logger.Debug("retrying backend read", "path", path, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return status.Errorf(codes.Unavailable, "backend %s %s: %v (last error: %v)", method, path, ctx.Err(), lastErr)
			case <-time.After(wait):
			}
		}

		retry, err := c.attempt(ctx, method, path, query, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, payload []byte, out any) (retry bool, err error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return false, status.Errorf(codes.Internal, "failed to build backend request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, status.Errorf(codes.Unavailable, "backend %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, status.Errorf(codes.Unavailable, "backend %s %s: reading body: %v", method, path, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return true, status.Errorf(codes.Unavailable, "backend %s %s returned %d: %s", method, path, resp.StatusCode, data)
	case resp.StatusCode == http.StatusNotFound:
		return false, status.Error(codes.NotFound, detail(data, "not found"))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return false, status.Error(codes.InvalidArgument, detail(data, "rejected by backend"))
	case resp.StatusCode >= 300:
		return false, status.Errorf(codes.Unavailable, "backend %s %s returned %d: %s", method, path, resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, status.Errorf(codes.Unavailable, "backend %s %s: malformed body: %v", method, path, err)
	}
	return false, nil
}

func detail(data []byte, fallback string) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return fallback
}

// IsNotFound reports whether err is a not-found answer from the store.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
