// Package upstream is a typed HTTP client for the messaging daemon.
//
// Every call carries a bounded timeout. Failures are classified into apperr
// kinds at this boundary so callers never inspect raw HTTP status codes.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/shape"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// HTTPStatusError captures non-2xx daemon responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	token      string
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("upstream: base url must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("upstream: invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.Internal("encode upstream request", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, apperr.Internal("build upstream request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do performs one JSON round trip. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("upstream call failed")
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("upstream call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(req.URL.String(), resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	// Daemon timestamps exceed float64 precision.
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if ctx.Err() != nil {
			return classifyTransport(ctx, err)
		}
		return apperr.Upstream("invalid upstream response", err)
	}
	return nil
}

func classifyTransport(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.UpstreamTimeout("upstream timed out", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return apperr.UpstreamTimeout("upstream timed out", err)
	case errors.Is(err, context.Canceled):
		return apperr.Upstream("upstream call canceled", err)
	default:
		return apperr.Upstream("upstream unavailable", err)
	}
}

func classifyStatus(u string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := &HTTPStatusError{StatusCode: resp.StatusCode, URL: u, Body: strings.TrimSpace(string(raw))}
	msg := upstreamMessage(raw)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		if msg == "" {
			msg = "not found"
		}
		return apperr.NotFound(msg, cause)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "rejected by upstream"
		}
		e := apperr.BadRequest(msg)
		e.Err = cause
		return e
	case resp.StatusCode == http.StatusConflict:
		if msg == "" {
			msg = "conflict"
		}
		e := apperr.Conflict(msg)
		e.Err = cause
		return e
	case resp.StatusCode == http.StatusGatewayTimeout:
		return apperr.UpstreamTimeout("upstream timed out", cause)
	case resp.StatusCode >= 500:
		return apperr.Upstream("upstream error", cause)
	default:
		return apperr.Internal("unexpected upstream response", cause)
	}
}

// upstreamMessage extracts a human message from an error body.
func upstreamMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, k := range []string{"message", "error", "detail"} {
			if s, ok := body[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// records extracts a record list from either a bare array or an object
// wrapper keyed by "data" or one of the given entity keys.
func records(v any, keys ...string) []shape.Record {
	switch t := v.(type) {
	case []any:
		out := make([]shape.Record, 0, len(t))
		for _, item := range t {
			if r, ok := item.(map[string]any); ok {
				out = append(out, r)
			}
		}
		return out
	case map[string]any:
		for _, k := range append([]string{"data"}, keys...) {
			if inner, ok := t[k]; ok {
				if _, isList := inner.([]any); isList {
					return records(inner)
				}
			}
		}
	}
	return []shape.Record{}
}

// record extracts a single record, unwrapping {"data": {...}} or an entity key.
func record(v any, keys ...string) shape.Record {
	t, ok := v.(map[string]any)
	if !ok {
		return shape.Record{}
	}
	for _, k := range append([]string{"data"}, keys...) {
		if inner, ok := t[k].(map[string]any); ok {
			return inner
		}
	}
	return t
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}
