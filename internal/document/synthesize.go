package document

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jun/webclipper/internal/model"
)

const genericFallback = "Content clipped from web"

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

// Input is everything known about one clip. Nil references are simply absent.
type Input struct {
	Title        string
	SelectedText string
	URL          string
	Preview      *model.Preview
	// Thumbnail is the preview thumbnail after upload.
	Thumbnail *model.MediaRef
	Image     *model.MediaRef
	Media     *model.MediaRef
	// MediaType is the caller's hint, used when Media has no category.
	MediaType string
}

// Synthesize builds the post body. The node order is fixed:
// heading, body text, URL block, image, media, source link. If nothing was
// produced a single fallback paragraph is emitted, so the result always
// passes Validate.
func Synthesize(in Input) *Document {
	var nodes []Node

	title := strings.TrimSpace(in.Title)
	if title != "" && title != strings.TrimSpace(in.SelectedText) {
		nodes = append(nodes, Heading(title))
	}

	switch {
	case strings.TrimSpace(in.SelectedText) != "":
		nodes = append(nodes, paragraphs(in.SelectedText)...)
	case in.Preview != nil && strings.TrimSpace(in.Preview.Description) != "":
		nodes = append(nodes, paragraphs(in.Preview.Description)...)
	}

	if in.URL != "" {
		nodes = append(nodes, urlNodes(in.URL, in.Preview, in.Thumbnail)...)
	}

	if in.Image != nil && in.Image.SignedID != "" {
		nodes = append(nodes, Image(in.Image.SignedID))
	}

	if n, ok := mediaNode(in.Media, in.MediaType); ok {
		nodes = append(nodes, n)
	}

	if in.URL != "" && !HasURLEmbedded(nodes, in.URL) {
		nodes = append(nodes, LinkParagraph("Source: "+in.URL, in.URL))
	}

	if len(nodes) == 0 {
		nodes = append(nodes, Paragraph(fallbackText(in, title)))
	}
	return New(nodes...)
}

// paragraphs splits text on blank lines into one paragraph per non-empty block.
func paragraphs(text string) []Node {
	var out []Node
	for _, block := range blankLine.Split(text, -1) {
		if strings.TrimSpace(block) == "" {
			continue
		}
		out = append(out, Paragraph(block))
	}
	return out
}

// urlNodes picks one representation of the clipped URL.
// A native embed node would come first, but the platform offers no way to
// resolve a URL to an embed sgid, so only the image-and-link and plain link
// forms are produced.
func urlNodes(href string, p *model.Preview, thumb *model.MediaRef) []Node {
	if p != nil && p.ThumbnailURL != "" && thumb != nil && thumb.SignedID != "" {
		text := firstNonEmpty(p.Title, p.Site, href)
		return []Node{Image(thumb.SignedID), LinkParagraph(text, href)}
	}

	var text string
	if p != nil {
		text = firstNonEmpty(p.Title, p.Site)
	}
	if text == "" {
		text = ExtractDomain(href)
	}
	return []Node{LinkParagraph(text, href)}
}

func mediaNode(ref *model.MediaRef, hint string) (Node, bool) {
	if ref == nil || ref.SignedID == "" {
		return Node{}, false
	}
	category := ref.Category
	if category == "" {
		category = model.MediaCategory(hint)
	}
	if category == "" {
		return Node{}, false
	}
	if category.IsStreamable() {
		return Attachment(ref.SignedID, firstNonEmpty(ref.Filename, "media")), true
	}
	return File(ref.SignedID, firstNonEmpty(ref.Filename, "file")), true
}

func fallbackText(in Input, title string) string {
	p := in.Preview
	switch {
	case p != nil && strings.TrimSpace(p.Description) != "":
		return p.Description
	case p != nil && strings.TrimSpace(p.Title) != "" && p.Title != in.Title:
		return p.Title
	case title != "":
		return "Web content: " + title
	case in.URL != "":
		return "Content from: " + ExtractDomain(in.URL)
	default:
		return genericFallback
	}
}

// ExtractDomain returns the hostname of raw without a leading "www.", or raw
// itself when it is not an absolute URL.
func ExtractDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
