package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultReadTimeout  = 3 * time.Second
	defaultTrainTimeout = 5 * time.Second
	maxErrorBody        = 512
)

// StatusError is returned when the upstream service answers with a non-2xx status.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: unexpected status %d", e.Path, e.Code)
	}
	return fmt.Sprintf("GET %s: unexpected status %d: %s", e.Path, e.Code, e.Body)
}

// API reads clients, contracts and dashboard statistics from the CRM backend.
// Every call is attempted once.
type API struct {
	baseURL      string
	token        string
	readTimeout  time.Duration
	trainTimeout time.Duration
	httpClient   *http.Client
}

// Option customizes an API.
type Option func(*API)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *API) { c.token = token }
}

// WithTimeouts overrides the per-read timeout and the timeout used for the
// full contract list fetched for training. Non-positive values keep the default.
func WithTimeouts(read, train time.Duration) Option {
	return func(c *API) {
		if read > 0 {
			c.readTimeout = read
		}
		if train > 0 {
			c.trainTimeout = train
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *API) { c.httpClient = hc }
}

// NewAPI creates an API for the backend at baseURL.
func NewAPI(baseURL string, opts ...Option) *API {
	c := &API{
		baseURL:      strings.TrimRight(baseURL, "/"),
		readTimeout:  defaultReadTimeout,
		trainTimeout: defaultTrainTimeout,
		httpClient:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *API) BaseURL() string {
	return c.baseURL
}

// Stats fetches GET /api/stats/dashboard.
func (c *API) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.get(ctx, "/api/stats/dashboard", c.readTimeout, &s)
	return s, err
}

// Clients fetches GET /api/clients.
func (c *API) Clients(ctx context.Context) ([]Client, error) {
	var out []Client
	if err := c.get(ctx, "/api/clients", c.readTimeout, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Contracts fetches GET /api/contracts with the read timeout.
func (c *API) Contracts(ctx context.Context) ([]Contract, error) {
	return c.contracts(ctx, c.readTimeout)
}

// TrainingContracts fetches the full contract list with the longer training timeout.
func (c *API) TrainingContracts(ctx context.Context) ([]Contract, error) {
	return c.contracts(ctx, c.trainTimeout)
}

func (c *API) contracts(ctx context.Context, timeout time.Duration) ([]Contract, error) {
	var out []Contract
	if err := c.get(ctx, "/api/contracts", timeout, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Contract fetches GET /api/contracts/{id}.
func (c *API) Contract(ctx context.Context, id int64) (Contract, error) {
	var out Contract
	err := c.get(ctx, "/api/contracts/"+strconv.FormatInt(id, 10), c.readTimeout, &out)
	return out, err
}

func (c *API) get(ctx context.Context, path string, timeout time.Duration, v any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
