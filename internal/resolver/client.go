// Package resolver is the HTTP client for the country resolution service.
//
// The service answers GET /api/convert?country=<query>:
//
//	200 {"query": "...", "officialName": "...", "iso2Code": "..", "iso3Code": "..."}
//	404 {"error": "Country not found: ...", "query": "..."}
//
// Anything else is a transport failure. Connection errors, 429 and 5xx are
// retried with exponential backoff before giving up.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/countrybatch/internal/core"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const convertPath = "/api/convert"

// maxErrorBody bounds how much of an unexpected response is kept for logs.
const maxErrorBody = 512

// maxMatchBody bounds a successful conversion response.
const maxMatchBody = 64 << 10

// Options configures a Client. Zero values pick the defaults.
type Options struct {
	BaseURL      string
	Timeout      time.Duration // per attempt, default 10s
	RetryMax     int           // default 3; negative disables retries
	RetryWaitMin time.Duration // default 200ms
	RetryWaitMax time.Duration // default 5s

	// RequestsPerSecond throttles outgoing calls across all workers.
	// Zero disables throttling.
	RequestsPerSecond float64
	Burst             int

	Logger *slog.Logger
}

// Client resolves queries over HTTP. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

// New builds a Client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "resolver base url %q", opts.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Newf("resolver base url %q must be http or https", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 200 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = opts.Timeout
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Logger = opts.Logger.With("component", "resolver")
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{base: base, http: rc}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

type convertResponse struct {
	Query        string `json:"query"`
	OfficialName string `json:"officialName"`
	ISO2Code     string `json:"iso2Code"`
	ISO3Code     string `json:"iso3Code"`
}

type errorResponse struct {
	Error string `json:"error"`
	Query string `json:"query"`
}

// Resolve asks the service for query.
func (c *Client) Resolve(ctx context.Context, query string) (core.Match, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return core.Match{}, &core.TransportError{Query: query, Err: err}
		}
	}

	endpoint := c.endpoint(query)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.Match{}, &core.TransportError{Query: query, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.Match{}, &core.TransportError{Query: query, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body convertResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxMatchBody)).Decode(&body); err != nil {
			return core.Match{}, &core.TransportError{Query: query, Err: errors.Wrap(err, "decode response")}
		}
		if body.ISO2Code == "" {
			return core.Match{}, &core.TransportError{Query: query, Err: errors.New("malformed response: missing iso2Code")}
		}
		return core.Match{Code: body.ISO2Code, Name: body.OfficialName}, nil

	case http.StatusNotFound:
		var body errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body)
		reason := body.Error
		if reason == "" {
			reason = fmt.Sprintf("Country not found: %s", query)
		}
		return core.Match{}, &core.NotFoundError{Query: query, Reason: reason}

	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return core.Match{}, &core.TransportError{
			Query: query,
			Err:   &HTTPStatusError{URL: endpoint, StatusCode: resp.StatusCode, Body: string(raw)},
		}
	}
}

func (c *Client) endpoint(query string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + convertPath
	u.RawQuery = url.Values{"country": {query}}.Encode()
	return u.String()
}

// HTTPStatusError is an unexpected status from the resolution service.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	msg := extractErrorMessage(e.Body)
	if msg == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, msg)
}

// extractErrorMessage pulls "error" out of a JSON body, falling back to the
// trimmed raw text.
func extractErrorMessage(body string) string {
	var er errorResponse
	if err := json.Unmarshal([]byte(body), &er); err == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(body)
}
