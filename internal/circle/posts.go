package circle

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jun/webclipper/internal/model"
)

// PostInput is the content of a new post.
type PostInput struct {
	Name    string
	SpaceID model.FlexibleID
	Body    any
}

type postPayload struct {
	Name       string           `json:"name"`
	PostType   string           `json:"post_type"`
	SpaceID    model.FlexibleID `json:"space_id,omitempty"`
	TiptapBody any              `json:"tiptap_body"`
}

// CreatePost submits a post and returns the created post with the endpoint
// that accepted it. Any 2xx JSON response counts as success.
func (c *Client) CreatePost(ctx context.Context, accessToken string, in PostInput) (*model.Post, string, error) {
	endpoint := c.cfg.HeadlessBase + c.cfg.PostsPath
	payload := postPayload{
		Name:       in.Name,
		PostType:   c.cfg.PostType,
		SpaceID:    in.SpaceID,
		TiptapBody: in.Body,
	}

	var raw json.RawMessage
	if _, err := c.doJSON(ctx, accessToken, http.MethodPost, endpoint, payload, &raw); err != nil {
		c.logFailure("create_post", err)
		return nil, endpoint, err
	}

	post := decodePost(raw)
	if post.Name == "" {
		post.Name = in.Name
	}
	if post.SpaceID == "" {
		post.SpaceID = in.SpaceID
	}
	return post, endpoint, nil
}

// decodePost accepts either a bare post object or one wrapped as {"post": {...}}.
func decodePost(raw json.RawMessage) *model.Post {
	var wrapped struct {
		Post *model.Post `json:"post"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Post != nil {
		return wrapped.Post
	}
	var post model.Post
	_ = json.Unmarshal(raw, &post)
	return &post
}

// ListSpaces returns the spaces visible to the member. The platform answers
// either {"spaces": [...]} or a bare array.
func (c *Client) ListSpaces(ctx context.Context, accessToken string) ([]model.Space, error) {
	endpoint := c.cfg.HeadlessBase + "/spaces"

	var raw json.RawMessage
	status, err := c.doJSON(ctx, accessToken, http.MethodGet, endpoint, nil, &raw)
	if err != nil {
		c.logFailure("list_spaces", err)
		return nil, err
	}

	var spaces []model.Space
	if err := json.Unmarshal(raw, &spaces); err == nil {
		return spaces, nil
	}
	var wrapped struct {
		Spaces []model.Space `json:"spaces"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &APIError{Kind: ErrMalformedResponse, Endpoint: endpoint, StatusCode: status, Message: "unexpected spaces payload"}
	}
	if wrapped.Spaces == nil {
		return []model.Space{}, nil
	}
	return wrapped.Spaces, nil
}
