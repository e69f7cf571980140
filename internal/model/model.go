package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Preview source markers.
const (
	SourceIframely = "iframely"
	SourceOEmbed   = "oembed"
	SourceFallback = "fallback"
)

// MediaCategory is the coarse kind of an uploaded blob.
type MediaCategory string

const (
	CategoryImage MediaCategory = "image"
	CategoryVideo MediaCategory = "video"
	CategoryAudio MediaCategory = "audio"
	CategoryFile  MediaCategory = "file"
)

// IsStreamable reports whether the category renders as an attachment player upstream.
func (c MediaCategory) IsStreamable() bool {
	return c == CategoryVideo || c == CategoryAudio
}

// Preview is the normalized link preview for a URL.
// Values are immutable once cached; callers copy before decorating.
type Preview struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Site         string    `json:"site"`
	Description  string    `json:"description"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CanEmbed     bool      `json:"can_embed"`
	EmbedHTML    string    `json:"embed_html,omitempty"`
	Type         string    `json:"type"`
	Author       string    `json:"author,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	Views        int64     `json:"views,omitempty"`
	Likes        int64     `json:"likes,omitempty"`
	CachedAt     time.Time `json:"cached_at"`
	Source       string    `json:"source"`
}

// MediaRef references a blob uploaded to the upstream platform.
type MediaRef struct {
	SignedID    string        `json:"signed_id"`
	Filename    string        `json:"filename"`
	ContentType string        `json:"content_type"`
	Size        int64         `json:"size"`
	Category    MediaCategory `json:"category"`
	OriginalURL string        `json:"original_url,omitempty"`
}

// ClipRequest is the body of POST /clip.
type ClipRequest struct {
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	SelectedText string     `json:"selectedText"`
	ImageURL     string     `json:"imageUrl"`
	MediaURL     string     `json:"mediaUrl"`
	MediaType    string     `json:"mediaType"`
	SpaceID      FlexibleID `json:"spaceId,omitempty"`
}

// Space is an upstream community space the member can post into.
type Space struct {
	ID          FlexibleID `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	IsPrivate   bool       `json:"is_private"`
	MemberCount int        `json:"member_count"`
	PostCount   int        `json:"post_count"`
}

// Post is the upstream representation of a created post.
type Post struct {
	ID       FlexibleID `json:"id"`
	Name     string     `json:"name"`
	URL      string     `json:"url"`
	ShareURL string     `json:"share_url"`
	SpaceID  FlexibleID `json:"space_id"`
}

// Link returns the best public URL of the post.
func (p Post) Link() string {
	if p.URL != "" {
		return p.URL
	}
	return p.ShareURL
}

// FlexibleID is an identifier that may arrive as a JSON number or string.
// Numeric values are written back as numbers.
type FlexibleID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = FlexibleID(n.String())
	return nil
}

// MarshalJSON writes canonical integers as numbers and everything else,
// including "007" and "+5", as strings.
func (id FlexibleID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}
