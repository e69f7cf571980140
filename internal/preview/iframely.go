package preview

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jun/webclipper/internal/model"
)

// Link categories that carry images, in order of preference.
var thumbnailCategories = []string{"thumbnail", "image", "logo"}

// Link categories that make a URL embeddable, in order of preference.
var embedCategories = []string{"player", "app", "reader"}

type iframelyLink struct {
	Href  string `json:"href"`
	HTML  string `json:"html"`
	Media struct {
		Width  number `json:"width"`
		Height number `json:"height"`
	} `json:"media"`
}

type iframelyMeta struct {
	Title       string `json:"title"`
	Site        string `json:"site"`
	Description string `json:"description"`
	Medium      string `json:"medium"`
	Author      string `json:"author"`
	Duration    number `json:"duration"`
	Views       number `json:"views"`
	Likes       number `json:"likes"`
}

type iframelyResponse struct {
	Meta        iframelyMeta    `json:"meta"`
	Links       json.RawMessage `json:"links"`
	Title       string          `json:"title"`
	Site        string          `json:"site"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Author      string          `json:"author"`
	Duration    number          `json:"duration"`
}

// links decodes the category map. Any other shape yields no links.
func (r *iframelyResponse) links() map[string][]iframelyLink {
	var m map[string][]iframelyLink
	if len(r.Links) == 0 || json.Unmarshal(r.Links, &m) != nil {
		return nil
	}
	return m
}

// toPreview maps the metadata response onto a Preview for rawURL.
func (r *iframelyResponse) toPreview(rawURL string, now time.Time) *model.Preview {
	links := r.links()
	p := &model.Preview{
		URL:          rawURL,
		Title:        firstNonEmpty(r.Meta.Title, r.Title, ExtractTitleFromURL(rawURL)),
		Site:         firstNonEmpty(r.Meta.Site, r.Site, ExtractDomain(rawURL)),
		Description:  firstNonEmpty(r.Meta.Description, r.Description),
		ThumbnailURL: bestThumbnail(links),
		CanEmbed:     canEmbed(links),
		EmbedHTML:    embedHTML(links),
		Type:         firstNonEmpty(r.Meta.Medium, r.Type, "link"),
		Author:       firstNonEmpty(r.Meta.Author, r.Author),
		Duration:     float64(r.Meta.Duration),
		Views:        int64(r.Meta.Views),
		Likes:        int64(r.Meta.Likes),
		CachedAt:     now,
		Source:       model.SourceIframely,
	}
	if p.Duration == 0 {
		p.Duration = float64(r.Duration)
	}
	return p
}

// bestThumbnail returns the largest (width x height) image in the first
// category that has any image with an href. Ties keep the earlier entry.
func bestThumbnail(links map[string][]iframelyLink) string {
	for _, cat := range thumbnailCategories {
		best, bestArea := "", -1.0
		for _, l := range links[cat] {
			if l.Href == "" {
				continue
			}
			area := float64(l.Media.Width) * float64(l.Media.Height)
			if area > bestArea {
				best, bestArea = l.Href, area
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}

func canEmbed(links map[string][]iframelyLink) bool {
	for _, cat := range embedCategories {
		if len(links[cat]) > 0 {
			return true
		}
	}
	return false
}

func embedHTML(links map[string][]iframelyLink) string {
	for _, cat := range embedCategories {
		for _, l := range links[cat] {
			if l.HTML != "" {
				return l.HTML
			}
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// number accepts JSON numbers, numeric strings and null. Anything else is zero.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = number(f)
	return nil
}
