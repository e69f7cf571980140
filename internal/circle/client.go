// Package circle talks to the community platform's headless API: member
// access tokens, direct uploads, post creation and space listing.
package circle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/webclipper/internal/cache"
)

const (
	userAgent       = "WebClipper/2.0"
	maxResponseBody = 4 << 20
)

// Config configures a Client. Zero values fall back to the public endpoints.
type Config struct {
	APIBase      string
	HeadlessBase string
	PostsPath    string
	PostType     string
	ServiceToken string
	Timeout      time.Duration
}

// Client is an upstream API client. It is safe for concurrent use.
type Client struct {
	cfg   Config
	http  *http.Client
	cache cache.Store
	now   func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the base HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock overrides the time source used for token lifetimes.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client. Access tokens are cached in store.
func NewClient(cfg Config, store cache.Store, opts ...Option) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://app.circle.so/api"
	}
	if cfg.HeadlessBase == "" {
		cfg.HeadlessBase = cfg.APIBase + "/headless/v1"
	}
	if cfg.PostsPath == "" {
		cfg.PostsPath = "/posts"
	}
	if cfg.PostType == "" {
		cfg.PostType = "basic"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the service credential is present.
func (c *Client) Configured() bool {
	return c.cfg.ServiceToken != ""
}

// bearer returns an HTTP client that authenticates every request with token.
func (c *Client) bearer(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	hc.Timeout = c.http.Timeout
	return hc
}

// doJSON sends body (if non-nil) as JSON and decodes a JSON response into out.
// Non-JSON responses are reported as ErrMalformedResponse regardless of
// status; non-2xx JSON responses as ErrUpstream with the upstream message.
func (c *Client) doJSON(ctx context.Context, token, method, endpoint string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request for %s: %w", endpoint, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.bearer(ctx, token).Do(req)
	if err != nil {
		return 0, &APIError{Kind: ErrUpstream, Endpoint: endpoint, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, &APIError{Kind: ErrUpstream, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "failed to read response: " + err.Error()}
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return resp.StatusCode, &APIError{
			Kind:       ErrMalformedResponse,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "non-JSON response",
			Body:       truncate(string(raw), maxErrorBody),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &APIError{
			Kind:       ErrUpstream,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(raw, resp.Status),
			Body:       truncate(string(raw), maxErrorBody),
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, &APIError{
				Kind:       ErrMalformedResponse,
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Message:    "invalid JSON: " + err.Error(),
				Body:       truncate(string(raw), maxErrorBody),
			}
		}
	}
	return resp.StatusCode, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// upstreamMessage extracts {"error": ...} or {"message": ...} from an error body.
func upstreamMessage(raw []byte, fallback string) string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fallback
	}
	if s, ok := body.Error.(string); ok && s != "" {
		return s
	}
	if body.Message != "" {
		return body.Message
	}
	return fallback
}

func (c *Client) logFailure(op string, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		slog.Warn("circle call failed", "op", op, "endpoint", apiErr.Endpoint, "status", apiErr.StatusCode, "err", apiErr.Message)
		return
	}
	slog.Warn("circle call failed", "op", op, "err", err)
}
