// Package client provides a Go client for the contradeploy run journal API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server has no such run
var ErrNotFound = errors.New("not found")

// Client is a journal API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run is one deployment run
type Run struct {
	ID         string     `json:"id"`
	Network    string     `json:"network"`
	ChainID    int64      `json:"chainId"`
	Deployer   string     `json:"deployer,omitempty"`
	Status     string     `json:"status"`
	StepCount  int        `json:"stepCount"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Step is the last journaled state of one plan step
type Step struct {
	Index       int       `json:"index"`
	StepID      string    `json:"stepId"`
	Contract    string    `json:"contract"`
	State       string    `json:"state"`
	Compiler    string    `json:"compiler,omitempty"`
	Args        []string  `json:"args,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	Address     string    `json:"address,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RunDetail is a run with its steps
type RunDetail struct {
	Run
	Steps []Step `json:"steps"`
}

// ListRunsOptions filters a run listing
type ListRunsOptions struct {
	Network string
	Status  string
	Limit   int
	Cursor  string
}

// ListRunsResponse is the response for listing runs
type ListRunsResponse struct {
	Data       []Run      `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match a 404 response
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// ListRuns lists runs, newest first
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) (*ListRunsResponse, error) {
	q := url.Values{}
	if opts.Network != "" {
		q.Set("network", opts.Network)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/runs/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListRunsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun gets a run with its steps
func (c *Client) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var resp RunDetail
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports whether the server answers its health check
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.Status = resp.StatusCode
	return &errResp.Error
}
