package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// Version is reported by the health endpoint.
const Version = "2.0.0"

// Services reports which dependencies are configured.
type Services struct {
	CircleAPI   bool `json:"circle_api"`
	IframelyAPI bool `json:"iframely_api"`
	JWTSecret   bool `json:"jwt_secret"`
	SharedCache bool `json:"shared_cache"`
}

// HealthHandler reports service status.
type HealthHandler struct {
	services    Services
	environment string
	started     time.Time
	now         func() time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(services Services, environment string, now func() time.Time) *HealthHandler {
	if now == nil {
		now = time.Now
	}
	return &HealthHandler{services: services, environment: environment, started: now(), now: now}
}

type healthResponse struct {
	Status        string   `json:"status"`
	Timestamp     string   `json:"timestamp"`
	Version       string   `json:"version"`
	Environment   string   `json:"environment"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Services      Services `json:"services"`
	Error         string   `json:"error,omitempty"`
}

// Check reports healthy, or 503 when the upstream service credential is missing.
func (h *HealthHandler) Check(_ context.Context, _ events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	now := h.now()
	resp := healthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
		Services:      h.services,
	}
	if !h.services.CircleAPI {
		resp.Status = "unhealthy"
		resp.Error = "upstream service credential is not configured"
		return jsonResponse(http.StatusServiceUnavailable, resp), nil
	}
	return jsonResponse(http.StatusOK, resp), nil
}
