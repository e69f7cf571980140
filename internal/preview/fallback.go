package preview

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/jun/webclipper/internal/model"
)

const unknownSite = "Unknown Site"

var (
	slashTrim = regexp.MustCompile(`^/+|/+$`)
	extension = regexp.MustCompile(`\.[^.]*$`)
	wordStart = regexp.MustCompile(`\w\S*`)
	youtubeID = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`)
)

func parseAbsolute(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u, true
}

// ExtractTitleFromURL humanizes the last path segment:
// "/blog/2024/my-first_post.html" becomes "My First Post". An empty path
// yields the hostname and an unparseable URL is returned unchanged.
func ExtractTitleFromURL(raw string) string {
	u, ok := parseAbsolute(raw)
	if !ok {
		return raw
	}

	title := slashTrim.ReplaceAllString(u.Path, "")
	if title != "" {
		title = path.Base(title)
	}
	title = extension.ReplaceAllString(title, "")
	title = strings.NewReplacer("-", " ", "_", " ").Replace(title)
	title = wordStart.ReplaceAllStringFunc(title, func(w string) string {
		return strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	})

	if title == "" {
		return strings.ToLower(u.Hostname())
	}
	return title
}

// ExtractDomain returns the hostname without a leading "www.", or
// "Unknown Site" for an unparseable URL.
func ExtractDomain(raw string) string {
	u, ok := parseAbsolute(raw)
	if !ok {
		return unknownSite
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// YouTubeID returns the video id of a YouTube watch, short or embed URL.
func YouTubeID(raw string) (string, bool) {
	m := youtubeID.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Fallback builds a preview from the URL alone.
func Fallback(raw string, now time.Time) *model.Preview {
	return &model.Preview{
		URL:      raw,
		Title:    ExtractTitleFromURL(raw),
		Site:     ExtractDomain(raw),
		Type:     "link",
		CachedAt: now,
		Source:   model.SourceFallback,
	}
}
