// Package remote is a small client for the path-addressed realtime store
// the tour app syncs against, plus the appliers that deliver queued
// actions through it.
//
// The store speaks JSON over HTTP: GET and PUT on "<base>/<path>.json",
// with ETag / If-Match for optimistic transactions.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/toursync/internal/status"
)

// DefaultTimeout bounds each HTTP request.
const DefaultTimeout = 10 * time.Second

// DefaultDegradedLatency is the ping latency above which the backend is
// reported as degraded.
const DefaultDegradedLatency = 2 * time.Second

const maxTransactionRetries = 5

// ErrPreconditionFailed is returned when a transaction keeps losing races.
var ErrPreconditionFailed = errors.New("remote: transaction precondition failed")

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Code)
}

// Options configures a Client.
type Options struct {
	BaseURL         string
	AuthToken       string
	Timeout         time.Duration
	DegradedLatency time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client talks to the realtime store.
type Client struct {
	base     *url.URL
	token    string
	http     *http.Client
	degraded time.Duration
	logger   *slog.Logger
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", base.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	degraded := opts.DegradedLatency
	if degraded <= 0 {
		degraded = DefaultDegradedLatency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:     base,
		token:    opts.AuthToken,
		http:     hc,
		degraded: degraded,
		logger:   logger.With("component", "remote"),
	}, nil
}

// Write stores v at path, replacing what was there.
func (c *Client) Write(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	resp, err := c.do(ctx, http.MethodPut, path, body, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Read decodes the value at path into out. A missing or null value reports
// found=false.
func (c *Client) Read(ctx context.Context, path string, out any) (bool, error) {
	raw, _, err := c.read(ctx, path, false)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// Transaction reads the value at path, passes it to fn (nil when absent)
// and writes fn's result only if the value has not changed in between.
// Lost races are retried a few times before ErrPreconditionFailed.
func (c *Client) Transaction(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error {
	for attempt := 1; attempt <= maxTransactionRetries; attempt++ {
		current, etag, err := c.read(ctx, path, true)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}

		header := http.Header{}
		if etag != "" {
			header.Set("If-Match", etag)
		}
		resp, err := c.do(ctx, http.MethodPut, path, body, header)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusPreconditionFailed {
			return err
		}
		c.logger.Debug("transaction conflict, retrying", "path", path, "attempt", attempt)
	}
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, path)
}

// Ping measures a round trip to the store.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, _, err := c.read(ctx, ".info/connected", false)
	return time.Since(start), err
}

// Health turns a ping into the backend input of status.Derive.
func (c *Client) Health(ctx context.Context) status.Backend {
	latency, err := c.Ping(ctx)
	if err != nil {
		c.logger.Warn("backend unreachable", "error", err)
		return status.Backend{Reachable: status.Bool(false)}
	}
	return status.Backend{Reachable: status.Bool(true), Degraded: latency > c.degraded}
}

// read returns the raw value at path (nil when absent or null) and its
// ETag when requested.
func (c *Client) read(ctx context.Context, path string, wantETag bool) (json.RawMessage, string, error) {
	var header http.Header
	if wantETag {
		header = http.Header{"X-Etag": []string{"true"}}
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil, header)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, "", nil
		}
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	etag := resp.Header.Get("ETag")
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, etag, nil
	}
	return json.RawMessage(data), etag, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, header http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

// url builds "<base>/<escaped segments>.json".
func (c *Client) url(path string) string {
	raw := strings.Split(strings.Trim(path, "/"), "/")
	escaped := make([]string, len(raw))
	for i, s := range raw {
		escaped[i] = url.PathEscape(s)
	}
	u := *c.base
	prefix := strings.TrimRight(u.Path, "/")
	rawPrefix := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = prefix + "/" + strings.Join(raw, "/") + ".json"
	u.RawPath = rawPrefix + "/" + strings.Join(escaped, "/") + ".json"
	return u.String()
}

// Path joins path segments.
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}
