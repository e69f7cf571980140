package media

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/jun/webclipper/internal/model"
)

const maxFilenameLen = 100

// allowedTypes maps every accepted content type to its category.
var allowedTypes = map[string]model.MediaCategory{
	"image/jpeg": model.CategoryImage,
	"image/jpg":  model.CategoryImage,
	"image/png":  model.CategoryImage,
	"image/gif":  model.CategoryImage,
	"image/webp": model.CategoryImage,

	"video/mp4":       model.CategoryVideo,
	"video/webm":      model.CategoryVideo,
	"video/avi":       model.CategoryVideo,
	"video/mov":       model.CategoryVideo,
	"video/quicktime": model.CategoryVideo,

	"audio/mp3":    model.CategoryAudio,
	"audio/mpeg":   model.CategoryAudio,
	"audio/mp4":    model.CategoryAudio,
	"audio/m4a":    model.CategoryAudio,
	"audio/wav":    model.CategoryAudio,
	"audio/wave":   model.CategoryAudio,
	"audio/x-wav":  model.CategoryAudio,
	"audio/ogg":    model.CategoryAudio,
	"audio/vorbis": model.CategoryAudio,
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/avi":       ".avi",
	"video/mov":       ".mov",
	"video/quicktime": ".mov",
	"audio/mp3":       ".mp3",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"audio/m4a":       ".m4a",
	"audio/wav":       ".wav",
	"audio/wave":      ".wav",
	"audio/x-wav":     ".wav",
	"audio/ogg":       ".ogg",
	"audio/vorbis":    ".ogg",
}

// guessTypes is used when the server does not declare a useful content type.
var guessTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".avi":  "video/avi",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// NormalizeContentType strips parameters and lower-cases the media type.
// "image/PNG; charset=binary" -> "image/png".
func NormalizeContentType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return mt
}

// contentTypeFor picks the declared type, or guesses from the URL extension
// when the server sent nothing specific.
func contentTypeFor(header, src string) string {
	ct := NormalizeContentType(header)
	if ct != "" && ct != "application/octet-stream" && ct != "binary/octet-stream" {
		return ct
	}
	if u, err := url.Parse(src); err == nil {
		if guess, ok := guessTypes[strings.ToLower(path.Ext(u.Path))]; ok {
			return guess
		}
	}
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// IsAllowed reports whether contentType may be relayed.
func IsAllowed(contentType string) bool {
	_, ok := allowedTypes[contentType]
	return ok
}

// Category returns the coarse category of contentType.
func Category(contentType string) model.MediaCategory {
	if c, ok := allowedTypes[contentType]; ok {
		return c
	}
	return model.CategoryFile
}

// Extension returns the file extension for contentType, ".bin" if unknown.
func Extension(contentType string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return ".bin"
}

// Filename derives an upload filename from the source URL: its last path
// segment when that has an extension, otherwise a generated media_<uuid>
// name. The result contains only [A-Za-z0-9._-] and is at most 100 bytes.
func Filename(src, contentType string) string {
	name := ""
	if u, err := url.Parse(src); err == nil {
		segments := strings.Split(u.Path, "/")
		name = segments[len(segments)-1]
	}
	if name == "" || !strings.Contains(name, ".") {
		name = "media_" + uuid.NewString() + Extension(contentType)
	}

	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if name == "" {
		return "media"
	}
	return name
}
