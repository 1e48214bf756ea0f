// Package client talks to the Turna REST backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/turna/console/internal/models"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 * 1024

// Client is a thin JSON-over-HTTP client for the backend.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &ValidationError{Field: "base url", Message: fmt.Sprintf("%q is not absolute", baseURL)}
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// request describes one backend call.
type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

// jsonRequest builds a request whose body is v encoded as JSON.
func jsonRequest(method, path string, v any) (request, error) {
	req := request{method: method, path: path}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return req, fmt.Errorf("encode %s body: %w", path, err)
		}
		req.body = bytes.NewReader(data)
		req.contentType = "application/json"
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.endpoint(req.path, req.query), req.body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", req.method, req.path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", req.method).Str("path", req.path).Msg("backend request failed")
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newResponseError(resp.StatusCode, body)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", req.method, req.path, err)
	}
	return nil
}

// decodeList accepts either a page envelope or a bare JSON array.
func decodeList[T any](raw json.RawMessage, page *pageEnvelope[T]) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &page.Items); err != nil {
			return err
		}
		page.Total = len(page.Items)
		return nil
	}
	return json.Unmarshal(trimmed, page)
}

// pageEnvelope mirrors models.Page with the alternative field names the
// backend uses on older endpoints.
type pageEnvelope[T any] struct {
	Items  []T `json:"items"`
	Data   []T `json:"data"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (p *pageEnvelope[T]) items() []T {
	if p.Items == nil && p.Data != nil {
		return p.Data
	}
	if p.Items == nil {
		return []T{}
	}
	return p.Items
}

// getPage fetches one page of T from a list endpoint.
func getPage[T any](ctx context.Context, c *Client, path string, query url.Values) (*models.Page[T], error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{method: http.MethodGet, path: path, query: query}, &raw); err != nil {
		return nil, err
	}

	var env pageEnvelope[T]
	if err := decodeList(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	page := &models.Page[T]{
		Items:  env.items(),
		Total:  env.Total,
		Limit:  env.Limit,
		Offset: env.Offset,
	}
	if page.Total < page.Offset+len(page.Items) {
		page.Total = page.Offset + len(page.Items)
	}
	return page, nil
}
