package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SanteonNL/mettertron/cmd/mettertron/cache"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Client is the plumbing shared by the MDR and terminology server clients: it
// builds routes below a base URL, runs GET requests through the response cache
// and decodes JSON bodies.
type Client struct {
	BaseURL    string
	Prefix     string
	HTTPClient *http.Client
	cache      *cache.ResponseCache
	log        zerolog.Logger
}

type Config struct {
	BaseURL  string
	Prefix   string
	Timeout  time.Duration
	RetryMax int
}

// RequestSigner adds credentials to an outgoing request. Returning an error
// aborts the request before anything is sent.
type RequestSigner func(req *http.Request) error

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned error status %d for %s: %s\nBody: %s", e.StatusCode, e.URL, e.Status, e.Body)
}

func New(config Config, responseCache *cache.ResponseCache, log zerolog.Logger) *Client {
	return &Client{
		BaseURL:    config.BaseURL,
		Prefix:     config.Prefix,
		HTTPClient: NewHTTPClient(config.Timeout, config.RetryMax, log),
		cache:      responseCache,
		log:        log,
	}
}

// NewHTTPClient returns a standard *http.Client backed by a retrying transport.
func NewHTTPClient(timeout time.Duration, retryMax int, log zerolog.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if retryMax < 0 {
		retryMax = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.Logger = retryLogger{log: log}
	retryClient.HTTPClient = &http.Client{
		Timeout: timeout,
	}
	return retryClient.StandardClient()
}

// JoinURL joins the components with a single slash between each of them.
func JoinURL(components ...string) string {
	parts := make([]string, 0, len(components))
	for _, c := range components {
		if trimmed := strings.Trim(c, "/"); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "/")
}

// BuildRoute resolves an endpoint below the base URL and optional prefix.
func (c *Client) BuildRoute(endpoint string) string {
	if strings.TrimSpace(c.Prefix) == "" {
		return JoinURL(c.BaseURL, endpoint)
	}
	return JoinURL(c.BaseURL, c.Prefix, endpoint)
}

// CacheKey is the fully resolved request URL. Query keys are sorted, repeated
// values keep their order.
func CacheKey(route string, query url.Values) string {
	if len(query) == 0 {
		return route
	}
	sep := "?"
	if strings.Contains(route, "?") {
		sep = "&"
	}
	return route + sep + query.Encode()
}

// GetCached performs a GET for route and query, answering from the response cache
// when a fresh body is present.
func (c *Client) GetCached(ctx context.Context, route string, query url.Values, sign RequestSigner) ([]byte, error) {
	key := CacheKey(route, query)
	return c.cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		req, err := c.prepareRequest(ctx, http.MethodGet, key, nil)
		if err != nil {
			return nil, err
		}
		if sign != nil {
			if err := sign(req); err != nil {
				return nil, err
			}
		}
		return c.sendRequest(req)
	})
}

// GetJSON is GetCached followed by decoding into response.
func (c *Client) GetJSON(ctx context.Context, route string, query url.Values, sign RequestSigner, response any) error {
	body, err := c.GetCached(ctx, route, query, sign)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("failed to parse response JSON from %s: %w", CacheKey(route, query), err)
	}
	return nil
}

// PostForm sends an uncached form-encoded POST, used for token exchanges.
func (c *Client) PostForm(ctx context.Context, uri string, form url.Values, sign RequestSigner, response any) error {
	req, err := c.prepareRequest(ctx, http.MethodPost, uri, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign != nil {
		if err := sign(req); err != nil {
			return err
		}
	}

	body, err := c.sendRequest(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("failed to parse response JSON from %s: %w", uri, err)
	}
	return nil
}

func (c *Client) prepareRequest(ctx context.Context, method, uri string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", uri, err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) sendRequest(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Int("bytes", len(bodyBytes)).
		Msg("Upstream response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bodyBytes),
		}
	}

	if len(bodyBytes) == 0 {
		return nil, fmt.Errorf("received empty response from server for URL: %s", req.URL.String())
	}
	return bodyBytes, nil
}

// retryLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}
