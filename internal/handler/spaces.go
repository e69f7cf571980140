package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/webclipper/internal/circle"
	"github.com/jun/webclipper/internal/model"
	"github.com/jun/webclipper/internal/session"
)

// SpaceLister lists the spaces a member can post into.
type SpaceLister interface {
	ListSpaces(ctx context.Context, accessToken string) ([]model.Space, error)
}

// MemberTokens resolves member tokens and drops ones upstream has rejected.
type MemberTokens interface {
	TokenResolver
	InvalidateAccessToken(ctx context.Context, email string)
}

// SpacesHandler handles space listing.
type SpacesHandler struct {
	sessions *session.Manager
	tokens   MemberTokens
	spaces   SpaceLister
	debug    bool
}

// NewSpacesHandler creates a new SpacesHandler.
func NewSpacesHandler(sessions *session.Manager, tokens MemberTokens, spaces SpaceLister, debug bool) *SpacesHandler {
	return &SpacesHandler{sessions: sessions, tokens: tokens, spaces: spaces, debug: debug}
}

type spacesMeta struct {
	User       string `json:"user"`
	FetchedAt  string `json:"fetched_at"`
	TotalCount int    `json:"total_count"`
}

type spacesResponse struct {
	Success bool          `json:"success"`
	Spaces  []model.Space `json:"spaces"`
	Meta    spacesMeta    `json:"meta"`
}

// List returns the member's spaces.
func (h *SpacesHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	email, err := Authenticate(req, h.sessions)
	if err != nil {
		return ErrorResponse(err, h.debug), nil
	}

	token, err := h.tokens.ResolveAccessToken(ctx, email)
	if err != nil {
		return ErrorResponse(upstreamError(err), h.debug), nil
	}

	spaces, err := h.spaces.ListSpaces(ctx, token)
	if circle.IsTokenRejected(err) {
		h.tokens.InvalidateAccessToken(ctx, email)
		if token, err = h.tokens.ResolveAccessToken(ctx, email); err != nil {
			return ErrorResponse(upstreamError(err), h.debug), nil
		}
		spaces, err = h.spaces.ListSpaces(ctx, token)
	}
	if err != nil {
		return ErrorResponse(upstreamError(err), h.debug), nil
	}

	return jsonResponse(http.StatusOK, spacesResponse{
		Success: true,
		Spaces:  spaces,
		Meta: spacesMeta{
			User:       email,
			FetchedAt:  time.Now().UTC().Format(time.RFC3339),
			TotalCount: len(spaces),
		},
	}), nil
}
