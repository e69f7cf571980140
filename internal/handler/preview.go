package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/webclipper/internal/model"
	"github.com/jun/webclipper/internal/preview"
	"github.com/jun/webclipper/internal/ratelimit"
	"github.com/jun/webclipper/internal/session"
	"github.com/jun/webclipper/internal/validation"
)

// PreviewGetter resolves link previews. *preview.Fetcher implements it.
type PreviewGetter interface {
	Get(ctx context.Context, rawURL string) preview.Result
}

// PreviewHandler handles preview requests.
type PreviewHandler struct {
	sessions *session.Manager
	previews PreviewGetter
	limiter  *ratelimit.Limiter
	debug    bool
}

// NewPreviewHandler creates a new PreviewHandler.
func NewPreviewHandler(sessions *session.Manager, previews PreviewGetter, limiter *ratelimit.Limiter, debug bool) *PreviewHandler {
	return &PreviewHandler{sessions: sessions, previews: previews, limiter: limiter, debug: debug}
}

type previewMeta struct {
	RequestedBy string `json:"requested_by"`
	RequestedAt string `json:"requested_at"`
	CacheStatus string `json:"cache_status"`
}

type previewResponse struct {
	Success bool           `json:"success"`
	Preview *model.Preview `json:"preview"`
	Meta    previewMeta    `json:"meta"`
}

// Get returns the preview for ?url=.
func (h *PreviewHandler) Get(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	email, err := Authenticate(req, h.sessions)
	if err != nil {
		return ErrorResponse(err, h.debug), nil
	}

	if ok, retry := h.limiter.Allow("preview:" + email); !ok {
		return rateLimited(h.limiter.Limit(), retry, h.debug), nil
	}

	target, err := validation.ValidateURL(req.QueryStringParameters["url"], "url")
	if err != nil {
		return ErrorResponse(err, h.debug), nil
	}

	res := h.previews.Get(ctx, target)
	status := "miss"
	if res.Cached {
		status = "hit"
	}
	return jsonResponse(http.StatusOK, previewResponse{
		Success: true,
		Preview: res.Preview,
		Meta: previewMeta{
			RequestedBy: email,
			RequestedAt: time.Now().UTC().Format(time.RFC3339),
			CacheStatus: status,
		},
	}), nil
}
