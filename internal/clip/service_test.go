package clip

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/webclipper/internal/circle"
	"github.com/jun/webclipper/internal/document"
	"github.com/jun/webclipper/internal/media"
	"github.com/jun/webclipper/internal/model"
	"github.com/jun/webclipper/internal/preview"
)

type fakeTokens struct {
	token string
	err   error
	email string

	// fresh replaces token once the cached one is invalidated.
	fresh       string
	invalidated int
}

func (f *fakeTokens) ResolveAccessToken(_ context.Context, email string) (string, error) {
	f.email = email
	return f.token, f.err
}

func (f *fakeTokens) InvalidateAccessToken(_ context.Context, email string) {
	f.invalidated++
	if f.fresh != "" {
		f.token = f.fresh
	}
}

type fakePreviews struct {
	preview *model.Preview
	calls   int
}

func (f *fakePreviews) Get(_ context.Context, rawURL string) preview.Result {
	f.calls++
	if f.preview == nil {
		return preview.Result{Preview: preview.Fallback(rawURL, time.Now())}
	}
	return preview.Result{Preview: f.preview}
}

type fakeRelay struct {
	mu       sync.Mutex
	refs     map[string]*model.MediaRef
	relayed  []string
	images   []string
	maxBytes map[string]int64
}

func (f *fakeRelay) lookup(src string, max int64) (*model.MediaRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxBytes == nil {
		f.maxBytes = map[string]int64{}
	}
	f.maxBytes[src] = max
	if ref, ok := f.refs[src]; ok {
		return ref, nil
	}
	return nil, media.ErrUnsupportedType
}

func (f *fakeRelay) Relay(_ context.Context, src, _ string, max int64) (*model.MediaRef, error) {
	f.mu.Lock()
	f.relayed = append(f.relayed, src)
	f.mu.Unlock()
	return f.lookup(src, max)
}

func (f *fakeRelay) RelayImage(_ context.Context, src, _ string, max int64) (*model.MediaRef, error) {
	f.mu.Lock()
	f.images = append(f.images, src)
	f.mu.Unlock()
	return f.lookup(src, max)
}

type fakePosts struct {
	in    circle.PostInput
	token string
	err   error

	// revoked tokens are answered with a 401.
	revoked map[string]bool
	tokens  []string
}

func (f *fakePosts) CreatePost(_ context.Context, token string, in circle.PostInput) (*model.Post, string, error) {
	f.in, f.token = in, token
	f.tokens = append(f.tokens, token)
	if f.revoked[token] {
		return nil, "", &circle.APIError{Kind: circle.ErrUpstream, StatusCode: http.StatusUnauthorized, Message: "token revoked"}
	}
	if f.err != nil {
		return nil, "", f.err
	}
	return &model.Post{ID: "99", Name: in.Name, URL: "https://community.example/p/99", SpaceID: in.SpaceID}, "https://api.example/posts", nil
}

func body(t *testing.T, p *fakePosts) *document.Document {
	t.Helper()
	d, ok := p.in.Body.(*document.Document)
	require.True(t, ok, "post body should be a document")
	return d
}

func TestClip_FullPipeline(t *testing.T) {
	tokens := &fakeTokens{token: "member-token"}
	previews := &fakePreviews{preview: &model.Preview{
		Title: "Page", ThumbnailURL: "https://cdn.example/thumb.jpg", Source: model.SourceIframely,
	}}
	relay := &fakeRelay{refs: map[string]*model.MediaRef{
		"https://cdn.example/thumb.jpg": {SignedID: "thumb", Category: model.CategoryImage},
		"https://cdn.example/song.mp3":  {SignedID: "song", Filename: "song.mp3", Category: model.CategoryAudio},
	}}
	posts := &fakePosts{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	svc := NewService(tokens, previews, relay, posts, WithClock(func() time.Time { return fixed }))
	res, err := svc.Clip(context.Background(), "jane@example.com", model.ClipRequest{
		Title:    "My clip",
		URL:      "https://example.com/article",
		MediaURL: "https://cdn.example/song.mp3",
		SpaceID:  "42",
	})
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", tokens.email)
	assert.Equal(t, "member-token", posts.token)
	assert.Equal(t, "My clip", posts.in.Name)
	assert.Equal(t, model.FlexibleID("42"), posts.in.SpaceID)

	assert.Equal(t, Processing{
		PreviewSource:     model.SourceIframely,
		ImageProcessed:    false,
		MediaProcessed:    true,
		ThumbnailEnhanced: true,
		EndpointUsed:      "https://api.example/posts",
	}, res.Processing)
	assert.Equal(t, fixed, res.CreatedAt)
	assert.Equal(t, "https://community.example/p/99", res.Post.Link())

	assert.Equal(t, int64(media.DefaultMaxThumbnailBytes), relay.maxBytes["https://cdn.example/thumb.jpg"])
	assert.Equal(t, int64(media.DefaultMaxBytes), relay.maxBytes["https://cdn.example/song.mp3"])

	var kinds []string
	for _, n := range body(t, posts).Content {
		kinds = append(kinds, n.Type)
	}
	assert.Equal(t, []string{document.TypeHeading, document.TypeImage, document.TypeParagraph, document.TypeAttachment}, kinds)
}

func TestClip_UploadedImageSkipsThumbnail(t *testing.T) {
	previews := &fakePreviews{preview: &model.Preview{ThumbnailURL: "https://cdn.example/t.jpg", Source: model.SourceOEmbed}}
	relay := &fakeRelay{refs: map[string]*model.MediaRef{
		"https://cdn.example/pic.png": {SignedID: "pic", Category: model.CategoryImage},
		"https://cdn.example/t.jpg":   {SignedID: "thumb"},
	}}
	posts := &fakePosts{}

	res, err := NewService(&fakeTokens{token: "t"}, previews, relay, posts).Clip(context.Background(), "a@b.co", model.ClipRequest{
		URL:      "https://example.com",
		ImageURL: "https://cdn.example/pic.png",
	})
	require.NoError(t, err)
	assert.True(t, res.Processing.ImageProcessed)
	assert.False(t, res.Processing.ThumbnailEnhanced)
	assert.Empty(t, relay.images)
}

func TestClip_MediaFailuresAreAbsorbed(t *testing.T) {
	relay := &fakeRelay{}
	posts := &fakePosts{}

	res, err := NewService(&fakeTokens{token: "t"}, &fakePreviews{}, relay, posts).Clip(context.Background(), "a@b.co", model.ClipRequest{
		SelectedText: "quote",
		ImageURL:     "https://cdn.example/broken.png",
		MediaURL:     "https://cdn.example/broken.mp4",
	})
	require.NoError(t, err)
	assert.False(t, res.Processing.ImageProcessed)
	assert.False(t, res.Processing.MediaProcessed)
	assert.Empty(t, res.Processing.PreviewSource)
	assert.Len(t, relay.relayed, 2)
	assert.Equal(t, "quote", posts.in.Name)
}

func TestClip_FallbackPreview(t *testing.T) {
	previews := &fakePreviews{}
	posts := &fakePosts{}

	res, err := NewService(&fakeTokens{token: "t"}, previews, &fakeRelay{}, posts).Clip(context.Background(), "a@b.co", model.ClipRequest{
		URL: "https://www.example.com/some-page",
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceFallback, res.Processing.PreviewSource)
	assert.Equal(t, "Web Clip", posts.in.Name)
	require.NoError(t, document.Validate(body(t, posts)))
}

func TestClip_TokenFailureStopsPipeline(t *testing.T) {
	previews := &fakePreviews{}
	posts := &fakePosts{}

	_, err := NewService(&fakeTokens{err: circle.ErrMemberNotFound}, previews, &fakeRelay{}, posts).Clip(context.Background(), "a@b.co", model.ClipRequest{
		URL: "https://example.com",
	})
	require.ErrorIs(t, err, circle.ErrMemberNotFound)
	assert.Zero(t, previews.calls)
	assert.Nil(t, posts.in.Body)
}

func TestClip_PostFailure(t *testing.T) {
	upstream := errors.New("rejected")
	_, err := NewService(&fakeTokens{token: "t"}, &fakePreviews{}, &fakeRelay{}, &fakePosts{err: upstream}).Clip(context.Background(), "a@b.co", model.ClipRequest{
		Title: "x",
	})
	assert.ErrorIs(t, err, upstream)
}

func TestClip_RevokedTokenIsRefreshedOnce(t *testing.T) {
	tokens := &fakeTokens{token: "stale", fresh: "fresh"}
	posts := &fakePosts{revoked: map[string]bool{"stale": true}}

	svc := NewService(tokens, &fakePreviews{}, &fakeRelay{}, posts)
	res, err := svc.Clip(context.Background(), "jane@example.com", model.ClipRequest{Title: "T"})
	require.NoError(t, err)

	assert.Equal(t, 1, tokens.invalidated)
	assert.Equal(t, []string{"stale", "fresh"}, posts.tokens)
	assert.Equal(t, model.FlexibleID("99"), res.Post.ID)
}

func TestClip_RevokedTokenRetryGivesUp(t *testing.T) {
	tokens := &fakeTokens{token: "stale", fresh: "also-stale"}
	posts := &fakePosts{revoked: map[string]bool{"stale": true, "also-stale": true}}

	_, err := NewService(tokens, &fakePreviews{}, &fakeRelay{}, posts).
		Clip(context.Background(), "jane@example.com", model.ClipRequest{Title: "T"})
	require.Error(t, err)
	assert.True(t, circle.IsTokenRejected(err))
	assert.Equal(t, 1, tokens.invalidated)
	assert.Len(t, posts.tokens, 2)
}

func TestClip_OtherPostErrorsAreNotRetried(t *testing.T) {
	tokens := &fakeTokens{token: "member-token"}
	posts := &fakePosts{err: &circle.APIError{Kind: circle.ErrUpstream, StatusCode: http.StatusUnprocessableEntity}}

	_, err := NewService(tokens, &fakePreviews{}, &fakeRelay{}, posts).
		Clip(context.Background(), "jane@example.com", model.ClipRequest{Title: "T"})
	require.Error(t, err)
	assert.Equal(t, 0, tokens.invalidated)
	assert.Len(t, posts.tokens, 1)
}

func TestWithLimits(t *testing.T) {
	relay := &fakeRelay{}
	svc := NewService(&fakeTokens{token: "t"}, &fakePreviews{}, relay, &fakePosts{}, WithLimits(10, 0))
	_, err := svc.Clip(context.Background(), "a@b.co", model.ClipRequest{Title: "x", MediaURL: "https://cdn.example/m.mp4"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), relay.maxBytes["https://cdn.example/m.mp4"])
	assert.Equal(t, int64(media.DefaultMaxThumbnailBytes), svc.maxThumbnailBytes)
}

func TestPostName(t *testing.T) {
	assert.Equal(t, "Title", PostName(" Title ", "text"))
	assert.Equal(t, "text", PostName("", "text"))
	assert.Equal(t, "Web Clip", PostName("", "  "))

	long := strings.Repeat("é", 150)
	assert.Equal(t, strings.Repeat("é", 100), PostName("", long))
}
