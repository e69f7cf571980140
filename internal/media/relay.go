// Package media relays remote images, video and audio into the community
// platform's blob storage: download with a size ceiling, check the type
// against an allow-list, then upload through a one-time signed URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jun/webclipper/internal/circle"
	"github.com/jun/webclipper/internal/model"
)

const (
	DefaultMaxBytes          = 25 << 20
	DefaultMaxThumbnailBytes = 5 << 20
	DefaultTimeout           = 30 * time.Second

	userAgent = "WebClipper/2.0"
)

var (
	ErrTooLarge        = errors.New("media exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrDownload        = errors.New("media download failed")
)

// Uploader creates upload slots and fills them. *circle.Client implements it.
type Uploader interface {
	CreateDirectUpload(ctx context.Context, accessToken, filename, contentType string, size int64) (*circle.DirectUpload, error)
	UploadToSignedURL(ctx context.Context, upload *circle.DirectUpload, data []byte, contentType string) error
}

// Relay downloads remote media and re-uploads it upstream.
type Relay struct {
	uploader Uploader
	http     *http.Client
	timeout  time.Duration
}

// Option configures a Relay.
type Option func(*Relay)

// WithHTTPClient replaces the download client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Relay) { r.http = hc }
}

// WithTimeout bounds each download.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) { r.timeout = d }
}

// NewRelay creates a Relay uploading through u.
func NewRelay(u Uploader, opts ...Option) *Relay {
	r := &Relay{
		uploader: u,
		http:     &http.Client{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type download struct {
	data        []byte
	contentType string
}

// Relay moves any allowed image, video or audio at src upstream.
func (r *Relay) Relay(ctx context.Context, src, accessToken string, maxBytes int64) (*model.MediaRef, error) {
	return r.relay(ctx, src, accessToken, maxBytes, IsAllowed)
}

// RelayImage is Relay restricted to image types.
func (r *Relay) RelayImage(ctx context.Context, src, accessToken string, maxBytes int64) (*model.MediaRef, error) {
	return r.relay(ctx, src, accessToken, maxBytes, func(ct string) bool {
		return Category(ct) == model.CategoryImage
	})
}

func (r *Relay) relay(ctx context.Context, src, accessToken string, maxBytes int64, accept func(string) bool) (*model.MediaRef, error) {
	dl, err := r.download(ctx, src, maxBytes, accept)
	if err != nil {
		slog.Warn("media relay skipped", "src", src, "err", err)
		return nil, err
	}

	filename := Filename(src, dl.contentType)
	size := int64(len(dl.data))

	upload, err := r.uploader.CreateDirectUpload(ctx, accessToken, filename, dl.contentType, size)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload slot: %w", err)
	}
	if err := r.uploader.UploadToSignedURL(ctx, upload, dl.data, dl.contentType); err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	slog.Info("media relayed", "filename", filename, "content_type", dl.contentType, "size", size)
	return &model.MediaRef{
		SignedID:    upload.SignedID,
		Filename:    filename,
		ContentType: dl.contentType,
		Size:        size,
		Category:    Category(dl.contentType),
		OriginalURL: src,
	}, nil
}

// download fetches src. The declared length and content type are checked
// before any of the body is read; the actual length is checked after.
func (r *Relay) download(ctx context.Context, src string, maxBytes int64, accept func(string) bool) (*download, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownload, resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes (max %d)", ErrTooLarge, resp.ContentLength, maxBytes)
	}

	contentType := contentTypeFor(resp.Header.Get("Content-Type"), src)
	if !accept(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: received more than %d bytes", ErrTooLarge, maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrDownload)
	}
	return &download{data: data, contentType: contentType}, nil
}
