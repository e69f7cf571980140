package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/webclipper/internal/apierr"
	"github.com/jun/webclipper/internal/ratelimit"
	"github.com/jun/webclipper/internal/session"
	"github.com/jun/webclipper/internal/validation"
)

// TokenResolver exchanges a member email for an upstream access token.
type TokenResolver interface {
	ResolveAccessToken(ctx context.Context, email string) (string, error)
}

// AuthHandler handles authentication requests.
type AuthHandler struct {
	sessions *session.Manager
	tokens   TokenResolver
	limiter  *ratelimit.Limiter
	debug    bool
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions *session.Manager, tokens TokenResolver, limiter *ratelimit.Limiter, debug bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, tokens: tokens, limiter: limiter, debug: debug}
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Message      string `json:"message"`
}

// Login exchanges an email for a session token. The member must exist
// upstream; resolving their access token proves it and warms the cache.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ip := ClientIP(req)
	if ok, retry := h.limiter.Allow("auth:" + ip); !ok {
		slog.Warn("auth rate limit exceeded", "ip", ip)
		return rateLimited(h.limiter.Limit(), retry, h.debug), nil
	}

	var body loginRequest
	if err := decodeBody(req, &body); err != nil {
		return ErrorResponse(err, h.debug), nil
	}
	email, err := validation.ValidateEmail(body.Email)
	if err != nil {
		return ErrorResponse(err, h.debug), nil
	}

	if _, err := h.tokens.ResolveAccessToken(ctx, email); err != nil {
		return ErrorResponse(upstreamError(err), h.debug), nil
	}

	token, expiresIn, err := h.sessions.Issue(email)
	if err != nil {
		if errors.Is(err, session.ErrSecretNotConfigured) {
			return ErrorResponse(apierr.UpstreamConfig("Server configuration error. Please contact support.", err), h.debug), nil
		}
		return ErrorResponse(apierr.Internal("Failed to create session", err), h.debug), nil
	}

	slog.Info("session issued", "user", email)
	return jsonResponse(http.StatusOK, loginResponse{
		SessionToken: token,
		ExpiresIn:    expiresIn,
		Message:      "Authentication successful",
	}), nil
}
