package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/webclipper/internal/apierr"
	"github.com/jun/webclipper/internal/circle"
	"github.com/jun/webclipper/internal/session"
)

// SessionCookie is the cookie carrying a session token when no bearer header is sent.
const SessionCookie = "session_token"

// ErrNoToken is returned when a request carries neither a bearer token nor a session cookie.
var ErrNoToken = errors.New("no authorization token found")

// Header is a case-insensitive header lookup.
func Header(req events.APIGatewayProxyRequest, name string) string {
	if v, ok := req.Headers[name]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ExtractToken returns the session token from the Authorization header
// (Bearer <token>) or, failing that, the session cookie.
func ExtractToken(req events.APIGatewayProxyRequest) (string, error) {
	auth := Header(req, "Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		if tok := strings.TrimSpace(auth[7:]); tok != "" {
			return tok, nil
		}
	}

	// Cookie format: session_token=xxx; ...
	for _, part := range strings.Split(Header(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, SessionCookie+"="); ok && v != "" {
			return v, nil
		}
	}
	return "", ErrNoToken
}

// Authenticate verifies the request's session and returns its subject.
// Every failure is an authentication error.
func Authenticate(req events.APIGatewayProxyRequest, sessions *session.Manager) (string, error) {
	token, err := ExtractToken(req)
	if err != nil {
		return "", apierr.Authentication("Invalid or expired session. Please re-authenticate.", err)
	}
	subject, err := sessions.Verify(token)
	if err != nil {
		return "", apierr.Authentication("Invalid or expired session. Please re-authenticate.", err)
	}
	return subject, nil
}

// ClientIP returns the first X-Forwarded-For hop, else the API Gateway source IP.
func ClientIP(req events.APIGatewayProxyRequest) string {
	if fwd := Header(req, "X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := req.RequestContext.Identity.SourceIP; ip != "" {
		if host, _, err := net.SplitHostPort(ip); err == nil {
			return host
		}
		return ip
	}
	return "unknown"
}

// decodeBody unmarshals a JSON request body into v.
func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	if strings.TrimSpace(req.Body) == "" {
		return apierr.Validation("body", "Request body is required")
	}
	if err := json.Unmarshal([]byte(req.Body), v); err != nil {
		return &apierr.Error{
			Kind:    apierr.KindValidation,
			Status:  http.StatusBadRequest,
			Message: "Invalid JSON body",
			Field:   "body",
			Err:     err,
		}
	}
	return nil
}

// jsonResponse renders body with the given status.
func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		slog.Error("failed to encode response", "err", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"internal_error","message":"failed to encode response"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}

// ErrorResponse renders err as the uniform error envelope. Wrapped error
// text is included only when debug is set.
func ErrorResponse(err error, debug bool) events.APIGatewayProxyResponse {
	e := apierr.From(err)
	if e.Status >= http.StatusInternalServerError {
		slog.Error("request failed", "kind", e.Kind, "err", err)
	} else {
		slog.Info("request rejected", "kind", e.Kind, "err", err)
	}

	resp := jsonResponse(e.Status, apierr.NewEnvelope(e, debug, time.Now()))
	if e.Kind == apierr.KindRateLimit {
		resp.Headers["Retry-After"] = strconv.Itoa(apierr.RetryAfterSeconds(e.RetryAfter))
	}
	return resp
}

// rateLimited renders a 429 with the limiter's headers.
func rateLimited(limit int, retryAfter time.Duration, debug bool) events.APIGatewayProxyResponse {
	resp := ErrorResponse(apierr.RateLimited(retryAfter), debug)
	resp.Headers["X-RateLimit-Limit"] = strconv.Itoa(limit)
	resp.Headers["X-RateLimit-Remaining"] = "0"
	return resp
}

// upstreamError maps upstream platform failures onto the API taxonomy.
func upstreamError(err error) error {
	var e *apierr.Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, circle.ErrMemberNotFound):
		return apierr.NotFound("Email not found in community", err)
	case errors.Is(err, circle.ErrNotConfigured), errors.Is(err, circle.ErrUnauthorized):
		return apierr.UpstreamConfig("Server authentication error. Please contact support.", err)
	case errors.Is(err, circle.ErrMalformedResponse):
		return apierr.UpstreamProtocol("Upstream service returned an unexpected response", err)
	case errors.Is(err, circle.ErrUpstream):
		return apierr.Upstream(upstreamMessage(err), err)
	default:
		return apierr.Internal("An unexpected error occurred", err)
	}
}

func upstreamMessage(err error) string {
	var api *circle.APIError
	if errors.As(err, &api) && api.Message != "" {
		return api.Message
	}
	return "Upstream service request failed"
}
