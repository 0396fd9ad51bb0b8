// Package explorer is a client for Etherscan-compatible source verification APIs.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

var (
	ErrRequest         = errors.New("explorer request failed")
	ErrRejected        = errors.New("verification rejected")
	ErrAlreadyVerified = errors.New("contract already verified")
	ErrStillPending    = errors.New("verification still pending")
)

const (
	defaultStatusAttempts = 10
	defaultStatusInterval = 5 * time.Second
	defaultTimeout        = 60 * time.Second
)

// Submission is one verifysourcecode request
type Submission struct {
	ChainID         int64
	Address         string
	ContractName    string // "contracts/KmbioFactory.sol:KmbioFactory"
	CompilerVersion string // "v0.5.16+commit.9c3226ce"
	StandardJSON    json.RawMessage
	ConstructorArgs string // hex without 0x
	Optimized       bool
	Runs            int
	License         string
}

// Status is the result of checkverifystatus
type Status struct {
	Verified bool
	Pending  bool
	Message  string
}

// response is the envelope every endpoint answers with
type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// Client talks to one explorer API endpoint
type Client struct {
	baseURL        string
	apiKey         string
	http           *http.Client
	limiter        *rate.Limiter
	statusAttempts int
	statusInterval time.Duration
	logger         *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outgoing requests per second. Free explorer API keys
// allow about five.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithStatusPolling sets how often and how many times a pending
// verification is checked
func WithStatusPolling(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.statusAttempts = attempts
		}
		if interval > 0 {
			c.statusInterval = interval
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the API at baseURL
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		apiKey:         apiKey,
		http:           &http.Client{Timeout: defaultTimeout},
		limiter:        rate.NewLimiter(rate.Limit(4), 1),
		statusAttempts: defaultStatusAttempts,
		statusInterval: defaultStatusInterval,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends the source for verification and returns the request GUID.
// A contract that is already verified yields ErrAlreadyVerified.
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	optimized := "0"
	if sub.Optimized {
		optimized = "1"
	}

	form := url.Values{}
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	form.Set("apikey", c.apiKey)
	form.Set("chainid", strconv.FormatInt(sub.ChainID, 10))
	form.Set("contractaddress", sub.Address)
	form.Set("codeformat", "solidity-standard-json-input")
	form.Set("sourceCode", string(sub.StandardJSON))
	form.Set("contractname", sub.ContractName)
	form.Set("compilerversion", sub.CompilerVersion)
	form.Set("optimizationUsed", optimized)
	form.Set("runs", strconv.Itoa(sub.Runs))
	// the API spells it this way
	form.Set("constructorArguements", sub.ConstructorArgs)
	if code := licenseType(sub.License); code != "" {
		form.Set("licenseType", code)
	}

	resp, err := c.do(ctx, http.MethodPost, strconv.FormatInt(sub.ChainID, 10), form)
	if err != nil {
		return "", err
	}
	if resp.Status != "1" {
		if isAlreadyVerified(resp.Result) {
			return "", ErrAlreadyVerified
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Result)
	}
	c.logger.Debug("verification submitted", "address", sub.Address, "guid", resp.Result)
	return resp.Result, nil
}

// CheckStatus asks once for the state of a submitted verification
func (c *Client) CheckStatus(ctx context.Context, chainID int64, guid string) (Status, error) {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "checkverifystatus")
	q.Set("guid", guid)
	q.Set("apikey", c.apiKey)

	resp, err := c.do(ctx, http.MethodGet, strconv.FormatInt(chainID, 10), q)
	if err != nil {
		return Status{}, err
	}

	lower := strings.ToLower(resp.Result)
	switch {
	case strings.HasPrefix(lower, "pass") || isAlreadyVerified(resp.Result):
		return Status{Verified: true, Message: resp.Result}, nil
	case strings.Contains(lower, "pending") || strings.Contains(lower, "queue"):
		return Status{Pending: true, Message: resp.Result}, nil
	default:
		return Status{Message: resp.Result}, nil
	}
}

// WaitForVerification polls the status of guid at a fixed interval until it
// leaves the queue or the attempt budget is spent.
func (c *Client) WaitForVerification(ctx context.Context, chainID int64, guid string) (Status, error) {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.statusInterval), uint64(c.statusAttempts-1))

	status, err := backoff.RetryWithData(func() (Status, error) {
		st, err := c.CheckStatus(ctx, chainID, guid)
		if err != nil {
			return Status{}, err
		}
		if st.Pending {
			return st, fmt.Errorf("%w: %s", ErrStillPending, st.Message)
		}
		return st, nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return Status{}, err
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, chainID string, params url.Values) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}

	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid API URL: %w", ErrRequest, err)
	}

	var body io.Reader
	query := endpoint.Query()
	query.Set("chainid", chainID)
	if method == http.MethodGet {
		for k, vs := range params {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	} else {
		body = strings.NewReader(params.Encode())
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrRequest, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrRequest, httpResp.StatusCode, truncate(string(data), 200))
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrRequest, err)
	}
	return &resp, nil
}

func isAlreadyVerified(result string) bool {
	return strings.Contains(strings.ToLower(result), "already verified")
}

// licenseType maps SPDX identifiers to the explorer's numeric license codes
func licenseType(spdx string) string {
	codes := map[string]string{
		"unlicense":    "2",
		"mit":          "3",
		"gpl-2.0":      "4",
		"gpl-3.0":      "5",
		"lgpl-2.1":     "6",
		"lgpl-3.0":     "7",
		"bsd-2-clause": "8",
		"bsd-3-clause": "9",
		"mpl-2.0":      "10",
		"osl-3.0":      "11",
		"apache-2.0":   "12",
		"agpl-3.0":     "13",
		"busl-1.1":     "14",
	}
	key := strings.ToLower(strings.TrimSpace(spdx))
	key = strings.TrimSuffix(strings.TrimSuffix(key, "-only"), "-or-later")
	return codes[key]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
