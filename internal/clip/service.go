// Package clip turns a browser clip into a community post: it resolves the
// member's upstream token, gathers preview and media in parallel, builds the
// document and publishes it.
package clip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jun/webclipper/internal/circle"
	"github.com/jun/webclipper/internal/document"
	"github.com/jun/webclipper/internal/media"
	"github.com/jun/webclipper/internal/model"
	"github.com/jun/webclipper/internal/preview"
)

const (
	defaultPostName = "Web Clip"
	maxNameRunes    = 100
)

// TokenResolver exchanges a member email for an upstream access token and
// can drop a cached token that upstream no longer accepts.
type TokenResolver interface {
	ResolveAccessToken(ctx context.Context, email string) (string, error)
	InvalidateAccessToken(ctx context.Context, email string)
}

// PreviewGetter returns a preview for a URL. It never fails.
type PreviewGetter interface {
	Get(ctx context.Context, rawURL string) preview.Result
}

// MediaRelay re-uploads remote media upstream.
type MediaRelay interface {
	Relay(ctx context.Context, src, accessToken string, maxBytes int64) (*model.MediaRef, error)
	RelayImage(ctx context.Context, src, accessToken string, maxBytes int64) (*model.MediaRef, error)
}

// PostCreator publishes a post.
type PostCreator interface {
	CreatePost(ctx context.Context, accessToken string, in circle.PostInput) (*model.Post, string, error)
}

// Processing reports what the pipeline managed to do for one clip.
type Processing struct {
	PreviewSource     string `json:"preview_source,omitempty"`
	ImageProcessed    bool   `json:"image_processed"`
	MediaProcessed    bool   `json:"media_processed"`
	ThumbnailEnhanced bool   `json:"thumbnail_enhanced"`
	EndpointUsed      string `json:"endpoint_used"`
}

// Result is a published clip.
type Result struct {
	Post       *model.Post
	Processing Processing
	CreatedAt  time.Time
}

// Service runs the clip pipeline.
type Service struct {
	tokens   TokenResolver
	previews PreviewGetter
	relay    MediaRelay
	posts    PostCreator

	maxMediaBytes     int64
	maxThumbnailBytes int64
	now               func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLimits sets the media and thumbnail size ceilings.
func WithLimits(maxMedia, maxThumbnail int64) Option {
	return func(s *Service) {
		if maxMedia > 0 {
			s.maxMediaBytes = maxMedia
		}
		if maxThumbnail > 0 {
			s.maxThumbnailBytes = maxThumbnail
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the pipeline.
func NewService(tokens TokenResolver, previews PreviewGetter, relay MediaRelay, posts PostCreator, opts ...Option) *Service {
	s := &Service{
		tokens:            tokens,
		previews:          previews,
		relay:             relay,
		posts:             posts,
		maxMediaBytes:     media.DefaultMaxBytes,
		maxThumbnailBytes: media.DefaultMaxThumbnailBytes,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clip publishes req on behalf of email. req must already be validated.
// Preview and media failures only reduce the richness of the post; token
// resolution and post creation failures are returned.
func (s *Service) Clip(ctx context.Context, email string, req model.ClipRequest) (*Result, error) {
	token, err := s.tokens.ResolveAccessToken(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve member token: %w", err)
	}

	// Sub-operations are bounded by their own timeouts, not by the caller.
	work := context.WithoutCancel(ctx)

	var (
		wg    sync.WaitGroup
		pv    *model.Preview
		image *model.MediaRef
		mref  *model.MediaRef
	)
	if req.URL != "" {
		wg.Go(func() { pv = s.previews.Get(work, req.URL).Preview })
	}
	if req.ImageURL != "" {
		wg.Go(func() { image = s.relayOrNil(work, "image", req.ImageURL, token) })
	}
	if req.MediaURL != "" {
		wg.Go(func() { mref = s.relayOrNil(work, "media", req.MediaURL, token) })
	}
	wg.Wait()

	var thumb *model.MediaRef
	if pv != nil && pv.ThumbnailURL != "" && image == nil {
		ref, err := s.relay.RelayImage(work, pv.ThumbnailURL, token, s.maxThumbnailBytes)
		if err != nil {
			slog.Warn("thumbnail processing failed", "url", pv.ThumbnailURL, "err", err)
		} else {
			thumb = ref
		}
	}

	doc := document.Synthesize(document.Input{
		Title:        req.Title,
		SelectedText: req.SelectedText,
		URL:          req.URL,
		Preview:      pv,
		Thumbnail:    thumb,
		Image:        image,
		Media:        mref,
		MediaType:    req.MediaType,
	})
	if err := document.Validate(doc); err != nil {
		return nil, fmt.Errorf("content generation failed: %w", err)
	}
	slog.Info("document synthesized", "nodes", len(doc.Content), "user", email)

	input := circle.PostInput{
		Name:    PostName(req.Title, req.SelectedText),
		SpaceID: req.SpaceID,
		Body:    doc,
	}
	post, endpoint, err := s.posts.CreatePost(ctx, token, input)
	if circle.IsTokenRejected(err) {
		slog.Warn("member token rejected, refreshing", "user", email)
		s.tokens.InvalidateAccessToken(ctx, email)
		if token, err = s.tokens.ResolveAccessToken(ctx, email); err != nil {
			return nil, fmt.Errorf("failed to resolve member token: %w", err)
		}
		post, endpoint, err = s.posts.CreatePost(ctx, token, input)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	res := &Result{
		Post: post,
		Processing: Processing{
			ImageProcessed:    image != nil,
			MediaProcessed:    mref != nil,
			ThumbnailEnhanced: thumb != nil,
			EndpointUsed:      endpoint,
		},
		CreatedAt: s.now().UTC(),
	}
	if pv != nil {
		res.Processing.PreviewSource = pv.Source
	}
	return res, nil
}

func (s *Service) relayOrNil(ctx context.Context, kind, src, token string) *model.MediaRef {
	ref, err := s.relay.Relay(ctx, src, token, s.maxMediaBytes)
	if err != nil {
		slog.Warn("media processing failed", "kind", kind, "src", src, "err", err)
		return nil
	}
	return ref
}

// PostName is the title when present, else the first 100 characters of the
// selection, else "Web Clip".
func PostName(title, selectedText string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if sel := strings.TrimSpace(selectedText); sel != "" {
		r := []rune(sel)
		if len(r) > maxNameRunes {
			r = r[:maxNameRunes]
		}
		return string(r)
	}
	return defaultPostName
}
