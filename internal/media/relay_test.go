package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/webclipper/internal/circle"
	"github.com/jun/webclipper/internal/model"
)

type fakeUploader struct {
	slots    int
	puts     int
	filename string
	ctype    string
	size     int64
	data     []byte
	slotErr  error
	putErr   error
}

func (f *fakeUploader) CreateDirectUpload(_ context.Context, _, filename, contentType string, size int64) (*circle.DirectUpload, error) {
	f.slots++
	f.filename, f.ctype, f.size = filename, contentType, size
	if f.slotErr != nil {
		return nil, f.slotErr
	}
	return &circle.DirectUpload{SignedID: "signed-123", URL: "https://blob.example/slot"}, nil
}

func (f *fakeUploader) UploadToSignedURL(_ context.Context, _ *circle.DirectUpload, data []byte, _ string) error {
	f.puts++
	f.data = data
	return f.putErr
}

// trackingBody records whether anything tried to read it.
type trackingBody struct {
	reads atomic.Int32
}

func (b *trackingBody) Read(p []byte) (int, error) {
	b.reads.Add(1)
	return 0, io.EOF
}

func (b *trackingBody) Close() error { return nil }

type stubTransport struct {
	header        http.Header
	contentLength int64
	body          io.ReadCloser
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        s.header,
		ContentLength: s.contentLength,
		Body:          s.body,
		Request:       req,
	}, nil
}

func serve(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRelay_RejectsDeclaredLengthWithoutReadingBody(t *testing.T) {
	body := &trackingBody{}
	transport := &stubTransport{
		header:        http.Header{"Content-Type": []string{"video/mp4"}},
		contentLength: 100 << 20,
		body:          body,
	}
	up := &fakeUploader{}
	r := NewRelay(up, WithHTTPClient(&http.Client{Transport: transport}))

	_, err := r.Relay(context.Background(), "https://cdn.example/big.mp4", "tok", DefaultMaxBytes)
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, int32(0), body.reads.Load(), "body must not be read")
	assert.Equal(t, 0, up.slots)
}

func TestRelay_RejectsServerThatLiesAboutSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		// Flushing forces chunked encoding, so no length is declared.
		w.(http.Flusher).Flush()
		for i := 0; i < 4; i++ {
			_, _ = w.Write(bytes.Repeat([]byte{0x42}, 512))
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)

	up := &fakeUploader{}
	r := NewRelay(up)

	_, err := r.Relay(context.Background(), srv.URL+"/pic.png", "tok", 1024)
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, 0, up.slots)
}

func TestRelay_RejectsUnsupportedType(t *testing.T) {
	srv := serve(t, "text/html; charset=utf-8", []byte("<html></html>"))
	up := &fakeUploader{}

	_, err := NewRelay(up).Relay(context.Background(), srv.URL+"/page.html", "tok", DefaultMaxBytes)
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Equal(t, 0, up.slots)
}

func TestRelay_UploadsImage(t *testing.T) {
	payload := []byte("\x89PNG fake image bytes")
	srv := serve(t, "image/png", payload)
	up := &fakeUploader{}

	ref, err := NewRelay(up).Relay(context.Background(), srv.URL+"/img/cat.png?w=200", "tok", DefaultMaxBytes)
	require.NoError(t, err)

	assert.Equal(t, "signed-123", ref.SignedID)
	assert.Equal(t, "cat.png", ref.Filename)
	assert.Equal(t, "image/png", ref.ContentType)
	assert.Equal(t, int64(len(payload)), ref.Size)
	assert.Equal(t, model.CategoryImage, ref.Category)

	assert.Equal(t, "cat.png", up.filename)
	assert.Equal(t, "image/png", up.ctype)
	assert.Equal(t, int64(len(payload)), up.size)
	assert.Equal(t, payload, up.data)
	assert.Equal(t, 1, up.puts)
}

func TestRelay_VideoCategoryAndImageOnly(t *testing.T) {
	srv := serve(t, "video/quicktime", []byte("moov"))

	ref, err := NewRelay(&fakeUploader{}).Relay(context.Background(), srv.URL+"/clip", "tok", DefaultMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryVideo, ref.Category)
	assert.True(t, strings.HasSuffix(ref.Filename, ".mov"))

	_, err = NewRelay(&fakeUploader{}).RelayImage(context.Background(), srv.URL+"/clip", "tok", DefaultMaxThumbnailBytes)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestRelay_GuessesTypeFromExtension(t *testing.T) {
	srv := serve(t, "application/octet-stream", []byte("ID3"))

	ref, err := NewRelay(&fakeUploader{}).Relay(context.Background(), srv.URL+"/episode.mp3", "tok", DefaultMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", ref.ContentType)
	assert.Equal(t, model.CategoryAudio, ref.Category)
}

func TestRelay_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := NewRelay(&fakeUploader{}).Relay(context.Background(), srv.URL+"/gone.png", "tok", DefaultMaxBytes)
	assert.ErrorIs(t, err, ErrDownload)
}

func TestRelay_UploadFailurePropagates(t *testing.T) {
	srv := serve(t, "image/gif", []byte("GIF89a"))
	upstream := errors.New("slot refused")

	_, err := NewRelay(&fakeUploader{slotErr: upstream}).Relay(context.Background(), srv.URL+"/a.gif", "tok", DefaultMaxBytes)
	assert.ErrorIs(t, err, upstream)

	up := &fakeUploader{putErr: upstream}
	_, err = NewRelay(up).Relay(context.Background(), srv.URL+"/a.gif", "tok", DefaultMaxBytes)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, 1, up.puts)
}

func TestFilename(t *testing.T) {
	generated := regexp.MustCompile(`^media_[0-9a-f-]{36}\.png$`)

	assert.Equal(t, "photo_one.jpg", Filename("https://x.example/a/photo%20one.jpg", "image/jpeg"))
	assert.Equal(t, "r_sum_.pdf", Filename("https://x.example/r%C3%A9sum%C3%A9.pdf", "image/png"))
	assert.Regexp(t, generated, Filename("https://x.example/image", "image/png"))
	assert.Regexp(t, generated, Filename("https://x.example/", "image/png"))
	assert.True(t, strings.HasSuffix(Filename("https://x.example/blob", "application/x-unknown"), ".bin"))

	long := strings.Repeat("a", 150) + ".png"
	assert.Len(t, Filename("https://x.example/"+long, "image/png"), 100)
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "image/png", NormalizeContentType("image/PNG; charset=binary"))
	assert.Equal(t, "video/mp4", NormalizeContentType("video/mp4"))
	assert.Equal(t, "", NormalizeContentType(""))
}

func TestCategoryAndAllowList(t *testing.T) {
	assert.True(t, IsAllowed("image/webp"))
	assert.True(t, IsAllowed("audio/x-wav"))
	assert.False(t, IsAllowed("application/pdf"))
	assert.Equal(t, model.CategoryFile, Category("application/pdf"))
	assert.Equal(t, model.CategoryAudio, Category("audio/ogg"))
	assert.Equal(t, ".jpg", Extension("image/jpeg"))
	assert.Equal(t, ".bin", Extension("application/pdf"))
}
