// Package preview resolves link previews for clipped URLs. Lookups go to the
// metadata service first, then to YouTube oEmbed for video URLs, and finally
// to a heuristic built from the URL itself. A lookup never fails.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jun/webclipper/internal/cache"
	"github.com/jun/webclipper/internal/model"
)

const (
	DefaultTTL     = 24 * time.Hour
	DefaultTimeout = 10 * time.Second

	userAgent       = "WebClipper/2.0"
	maxResponseBody = 2 << 20
)

var errNoAPIKey = errors.New("metadata service API key not configured")

// Config configures a Fetcher.
type Config struct {
	IframelyBase string
	APIKey       string
	OEmbedBase   string
	Timeout      time.Duration
	TTL          time.Duration
}

// Result is a resolved preview. Cached reports whether it was served from
// the cache without an outbound call.
type Result struct {
	Preview *model.Preview
	Cached  bool
}

// Fetcher resolves and caches link previews.
type Fetcher struct {
	cfg   Config
	http  *http.Client
	cache cache.Store
	now   func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) { f.http = hc }
}

// WithClock overrides the time source for cached_at stamps.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a Fetcher caching into store.
func NewFetcher(cfg Config, store cache.Store, opts ...Option) *Fetcher {
	if cfg.IframelyBase == "" {
		cfg.IframelyBase = "https://iframe.ly/api/iframely"
	}
	if cfg.OEmbedBase == "" {
		cfg.OEmbedBase = "https://www.youtube.com/oembed"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	f := &Fetcher{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Configured reports whether the metadata service API key is present.
func (f *Fetcher) Configured() bool {
	return f.cfg.APIKey != ""
}

// Get returns the preview for rawURL. Only results from the metadata service
// or oEmbed are cached; heuristic fallbacks are rebuilt on every call.
func (f *Fetcher) Get(ctx context.Context, rawURL string) Result {
	key := cache.Key(cache.KindPreview, rawURL)
	if raw, ok := f.cache.Get(ctx, key); ok {
		var p model.Preview
		if err := json.Unmarshal(raw, &p); err == nil {
			return Result{Preview: &p, Cached: true}
		}
		slog.Warn("discarding unreadable cached preview", "url", rawURL)
	}

	p, err := f.fromIframely(ctx, rawURL)
	if err != nil {
		slog.Warn("metadata service unavailable, trying fallbacks", "url", rawURL, "err", err)
		if id, ok := YouTubeID(rawURL); ok {
			p, err = f.fromYouTube(ctx, rawURL, id)
			if err != nil {
				slog.Warn("oembed lookup failed", "url", rawURL, "err", err)
			}
		}
	}
	if err != nil {
		return Result{Preview: Fallback(rawURL, f.now())}
	}

	if b, err := json.Marshal(p); err == nil {
		if err := f.cache.Set(ctx, key, b, f.cfg.TTL); err != nil {
			slog.Warn("failed to cache preview", "url", rawURL, "err", err)
		}
	}
	return Result{Preview: p}
}

func (f *Fetcher) fromIframely(ctx context.Context, rawURL string) (*model.Preview, error) {
	if !f.Configured() {
		return nil, errNoAPIKey
	}

	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("api_key", f.cfg.APIKey)

	var out iframelyResponse
	if err := f.getJSON(ctx, f.cfg.IframelyBase+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.toPreview(rawURL, f.now()), nil
}

type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
	HTML         string `json:"html"`
}

func (f *Fetcher) fromYouTube(ctx context.Context, rawURL, videoID string) (*model.Preview, error) {
	q := url.Values{}
	q.Set("url", "https://www.youtube.com/watch?v="+videoID)
	q.Set("format", "json")

	var out oembedResponse
	if err := f.getJSON(ctx, f.cfg.OEmbedBase+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &model.Preview{
		URL:          rawURL,
		Title:        firstNonEmpty(out.Title, ExtractTitleFromURL(rawURL)),
		Site:         "YouTube",
		ThumbnailURL: out.ThumbnailURL,
		CanEmbed:     true,
		EmbedHTML:    out.HTML,
		Type:         "video",
		Author:       out.AuthorName,
		CachedAt:     f.now(),
		Source:       model.SourceOEmbed,
	}, nil
}

func (f *Fetcher) getJSON(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.New("invalid lookup URL")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		// The request URL carries the API key; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("%s: %w", req.URL.Host, uerr.Err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
