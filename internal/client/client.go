package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/storefront/internal/logger"
)

const (
	loginPath    = "/auth/login"
	registerPath = "/users"
	productsPath = "/products"

	// maxBodyBytes bounds how much of a response is read.
	maxBodyBytes = 8 << 20
)

// Config holds common client configuration
type Config struct {
	ServerURL     string
	Timeout       time.Duration
	Debug         bool
	CacheDir      string
	MaxRetries    uint
	RetryInterval time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL:     "https://fakestoreapi.com",
		Timeout:       30 * time.Second,
		MaxRetries:    2,
		RetryInterval: 250 * time.Millisecond,
	}
}

// StatusError is returned when the remote service answers with a non-success status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// LoginRequest is the body of the login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body of the user registration endpoint.
type RegisterRequest struct {
	DisplayName  string `json:"firstName"`
	EmailAddress string `json:"email"`
	Password     string `json:"password"`
}

// Client talks to the remote catalog service. Only the shape of the auth endpoints
// is used, their response bodies are discarded.
//
// The HTTP cache is keyed by URL alone, so requests carrying a bearer token go
// through uncachedClient and are never stored or served from it.
type Client struct {
	baseURL        *url.URL
	httpClient     *http.Client
	uncachedClient *http.Client
	maxRetries     uint
	retryInterval time.Duration
}

// New creates a client with the given configuration
func New(config Config) (*Client, error) {
	if config.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}

	baseURL, err := url.Parse(strings.TrimSuffix(config.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("server URL must be absolute: %q", config.ServerURL)
	}

	retryInterval := config.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultConfig().RetryInterval
	}

	cached := NewCachingTransport(config.CacheDir, http.DefaultTransport)

	return &Client{
		baseURL:        baseURL,
		httpClient:     newHTTPClient(config.Timeout, cached),
		uncachedClient: newHTTPClient(config.Timeout, http.DefaultTransport),
		maxRetries:     config.MaxRetries,
		retryInterval:  retryInterval,
	}, nil
}

func newHTTPClient(timeout time.Duration, transport http.RoundTripper) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(logger.NewOutboundRequests(log.Logger, transport)),
	}
}

// BaseURL returns the remote service address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Login calls the login-shaped endpoint and succeeds if the remote accepts it.
func (c *Client) Login(ctx context.Context, req LoginRequest) error {
	_, err := c.post(ctx, loginPath, req)
	return err
}

// Register calls the registration-shaped endpoint and succeeds if the remote accepts it.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	_, err := c.post(ctx, registerPath, req)
	return err
}

// ListProducts requests up to limit raw product records. When token is not
// empty it is sent as a bearer token. Transient failures are retried.
func (c *Client) ListProducts(ctx context.Context, limit int, token string) ([]byte, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	target := c.endpoint(productsPath) + "?" + query.Encode()

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		httpClient := c.httpClient
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			httpClient = c.uncachedClient
		}

		body, err := c.do(httpClient, req)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Temporary() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		return body, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retryIn", next).Msg("listing request failed, retrying")
		}),
	)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(c.uncachedClient, req)
}

func (c *Client) do(httpClient *http.Client, req *http.Request) ([]byte, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}

	return body, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// errorMessage prefers a JSON message field, then a short plain text body.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}

	text := strings.TrimSpace(string(body))
	if text != "" && len(text) <= 200 && !strings.HasPrefix(text, "<") {
		return text
	}

	if msg := http.StatusText(status); msg != "" {
		return msg
	}
	return "API request failed"
}
