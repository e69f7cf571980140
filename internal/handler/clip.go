package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/webclipper/internal/apierr"
	"github.com/jun/webclipper/internal/clip"
	"github.com/jun/webclipper/internal/document"
	"github.com/jun/webclipper/internal/model"
	"github.com/jun/webclipper/internal/session"
	"github.com/jun/webclipper/internal/validation"
)

// Clipper runs the clip pipeline. *clip.Service implements it.
type Clipper interface {
	Clip(ctx context.Context, email string, req model.ClipRequest) (*clip.Result, error)
}

// ClipHandler handles clip requests.
type ClipHandler struct {
	sessions *session.Manager
	clips    Clipper
	debug    bool
}

// NewClipHandler creates a new ClipHandler.
func NewClipHandler(sessions *session.Manager, clips Clipper, debug bool) *ClipHandler {
	return &ClipHandler{sessions: sessions, clips: clips, debug: debug}
}

type clipPost struct {
	ID      model.FlexibleID `json:"id"`
	URL     string           `json:"url"`
	Title   string           `json:"title"`
	SpaceID model.FlexibleID `json:"space_id"`
}

type clipMeta struct {
	User      string `json:"user"`
	CreatedAt string `json:"created_at"`
}

type clipResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Post       clipPost        `json:"post"`
	Processing clip.Processing `json:"processing"`
	Meta       clipMeta        `json:"meta"`
}

// Clip publishes a clip as a post.
func (h *ClipHandler) Clip(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	email, err := Authenticate(req, h.sessions)
	if err != nil {
		return ErrorResponse(err, h.debug), nil
	}

	var body model.ClipRequest
	if err := decodeBody(req, &body); err != nil {
		return ErrorResponse(err, h.debug), nil
	}
	if err := validation.ValidateClipRequest(&body); err != nil {
		return ErrorResponse(err, h.debug), nil
	}

	res, err := h.clips.Clip(ctx, email, body)
	if err != nil {
		if errors.Is(err, document.ErrInvalidRoot) || errors.Is(err, document.ErrEmptyContent) {
			return ErrorResponse(apierr.Internal("Content generation failed", err), h.debug), nil
		}
		return ErrorResponse(upstreamError(err), h.debug), nil
	}

	return jsonResponse(http.StatusOK, clipResponse{
		Success: true,
		Message: "Content clipped successfully",
		Post: clipPost{
			ID:      res.Post.ID,
			URL:     res.Post.Link(),
			Title:   res.Post.Name,
			SpaceID: res.Post.SpaceID,
		},
		Processing: res.Processing,
		Meta: clipMeta{
			User:      email,
			CreatedAt: res.CreatedAt.Format(time.RFC3339),
		},
	}), nil
}
