// Package document builds the rich-text tree the community platform's
// editor consumes: a "doc" root holding headings, paragraphs, links,
// images, embeds and file attachments.
package document

import (
	"errors"
	"strings"
)

// Node types.
const (
	TypeDoc        = "doc"
	TypeHeading    = "heading"
	TypeParagraph  = "paragraph"
	TypeText       = "text"
	TypeImage      = "image"
	TypeEmbed      = "embed"
	TypeFile       = "file"
	TypeAttachment = "attachment"
	TypeLink       = "link"
)

var (
	ErrInvalidRoot  = errors.New("root node must be of type \"doc\"")
	ErrEmptyContent = errors.New("document must have at least one content node")
)

// Mark decorates a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Node is one element of the tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Document is the root of the tree.
type Document struct {
	Type    string `json:"type"`
	Content []Node `json:"content"`
}

// New wraps nodes in a document root.
func New(nodes ...Node) *Document {
	if nodes == nil {
		nodes = []Node{}
	}
	return &Document{Type: TypeDoc, Content: nodes}
}

// Validate checks that d is well-formed: a "doc" root with at least one node.
func Validate(d *Document) error {
	if d == nil || d.Type != TypeDoc {
		return ErrInvalidRoot
	}
	if len(d.Content) == 0 {
		return ErrEmptyContent
	}
	return nil
}

// Heading returns a level-2 heading.
func Heading(text string) Node {
	return Node{
		Type:    TypeHeading,
		Attrs:   map[string]any{"level": 2},
		Content: []Node{{Type: TypeText, Text: strings.TrimSpace(text)}},
	}
}

// Paragraph returns a paragraph holding the trimmed text with optional
// marks. Blank text gives an empty paragraph.
func Paragraph(text string, marks ...Mark) Node {
	text = strings.TrimSpace(text)
	if text == "" {
		return Node{Type: TypeParagraph, Content: []Node{}}
	}
	return Node{
		Type:    TypeParagraph,
		Content: []Node{{Type: TypeText, Text: text, Marks: marks}},
	}
}

// LinkParagraph is a paragraph whose whole text links to href.
func LinkParagraph(text, href string) Node {
	return Paragraph(text, Link(href))
}

// Link returns a link mark opening href in a new tab.
func Link(href string) Mark {
	return Mark{
		Type:  TypeLink,
		Attrs: map[string]any{"href": href, "target": "_blank"},
	}
}

// Image returns a centered image node for an uploaded blob.
func Image(signedID string) Node {
	return Node{
		Type: TypeImage,
		Attrs: map[string]any{
			"signed_id": signedID,
			"alignment": "center",
			"alt":       "",
			"title":     "",
		},
	}
}

// Embed returns a native embed node for a platform-resolved sgid.
func Embed(sgid string) Node {
	return Node{Type: TypeEmbed, Attrs: map[string]any{"sgid": sgid}}
}

// File returns a generic file node.
func File(signedID, filename string) Node {
	return Node{Type: TypeFile, Attrs: map[string]any{"signed_id": signedID, "filename": filename}}
}

// Attachment returns an attachment node, rendered with a player upstream.
func Attachment(signedID, filename string) Node {
	return Node{Type: TypeAttachment, Attrs: map[string]any{"signed_id": signedID, "filename": filename}}
}

// HasURLEmbedded reports whether any paragraph in nodes already links to
// exactly href.
func HasURLEmbedded(nodes []Node, href string) bool {
	for _, n := range nodes {
		if n.Type != TypeParagraph {
			continue
		}
		for _, c := range n.Content {
			for _, m := range c.Marks {
				if m.Type == TypeLink && m.Attrs["href"] == href {
					return true
				}
			}
		}
	}
	return false
}
