package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/webclipper/internal/cache"
	"github.com/jun/webclipper/internal/config"
	"github.com/jun/webclipper/internal/secret"
)

func testApp(t *testing.T, devMode bool, secrets secret.Bundle) *App {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set(config.KeyDevMode, devMode)
	v.Set(config.KeyAllowedOrigin, "chrome-extension://abc")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return New(cfg, secrets, cache.NewMemoryStore())
}

func fullSecrets() secret.Bundle {
	return secret.Bundle{
		CircleAuthToken:    "svc",
		IframelyKey:        "key",
		JWTSecret:          "jwt",
		OriginVerifySecret: "origin",
	}
}

func call(t *testing.T, a *App, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, map[string]any) {
	t.Helper()
	resp, err := a.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	var body map[string]any
	if resp.Body != "" {
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &body), resp.Body)
	}
	return resp, body
}

func verified(headers map[string]string) map[string]string {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["x-origin-verify"] = "origin"
	return headers
}

func TestHandleRequest_Preflight(t *testing.T) {
	resp, _ := call(t, testApp(t, false, fullSecrets()), events.APIGatewayProxyRequest{HTTPMethod: "OPTIONS", Path: "/clip"})

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "chrome-extension://abc", resp.Headers["Access-Control-Allow-Origin"])
	assert.Equal(t, "true", resp.Headers["Access-Control-Allow-Credentials"])
	assert.Equal(t, "GET,POST,OPTIONS", resp.Headers["Access-Control-Allow-Methods"])
	assert.Equal(t, "Content-Type,Authorization", resp.Headers["Access-Control-Allow-Headers"])
	assert.Equal(t, "86400", resp.Headers["Access-Control-Max-Age"])
	assert.NotEmpty(t, resp.Headers["X-Request-Id"])
}

func TestHandleRequest_OriginGuard(t *testing.T) {
	a := testApp(t, false, fullSecrets())

	resp, body := call(t, a, events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/health"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["error"])

	resp, body = call(t, a, events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/api/health", Headers: verified(nil)})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	// DEV_MODE skips the check.
	resp, _ = call(t, testApp(t, true, fullSecrets()), events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/health"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleRequest_HealthWithoutServiceCredential(t *testing.T) {
	resp, body := call(t, testApp(t, true, secret.Bundle{}), events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/health"})

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	services := body["services"].(map[string]any)
	assert.Equal(t, false, services["circle_api"])
	assert.Equal(t, true, services["jwt_secret"], "DEV_MODE falls back to a development secret")
	assert.Equal(t, false, services["shared_cache"])
	assert.Equal(t, "development", body["environment"])
}

func TestHandleRequest_NotFoundAndMethod(t *testing.T) {
	a := testApp(t, false, fullSecrets())

	resp, body := call(t, a, events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/notes", Headers: verified(nil)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])

	resp, body = call(t, a, events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/clip/", Headers: verified(nil)})
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method_not_allowed", body["error"])
}

func TestHandleRequest_AuthValidationAndBase64Body(t *testing.T) {
	a := testApp(t, false, fullSecrets())

	resp, body := call(t, a, events.APIGatewayProxyRequest{
		HTTPMethod:      "POST",
		Path:            "/api/auth",
		Headers:         verified(nil),
		Body:            base64.StdEncoding.EncodeToString([]byte(`{"email":"not-an-email"}`)),
		IsBase64Encoded: true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "email", body["field"])

	resp, _ = call(t, a, events.APIGatewayProxyRequest{
		HTTPMethod:      "POST",
		Path:            "/auth",
		Headers:         verified(nil),
		Body:            "%%%",
		IsBase64Encoded: true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRequest_ProtectedRoutesRequireSession(t *testing.T) {
	a := testApp(t, false, fullSecrets())

	for _, r := range []struct{ method, path string }{
		{"POST", "/clip"},
		{"GET", "/preview"},
		{"GET", "/spaces"},
	} {
		resp, body := call(t, a, events.APIGatewayProxyRequest{HTTPMethod: r.method, Path: r.path, Headers: verified(nil)})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, r.path)
		assert.Equal(t, "authentication_error", body["error"], r.path)
	}
}

func TestMust_RendersJSON500(t *testing.T) {
	a := testApp(t, false, fullSecrets())
	resp := a.must(events.APIGatewayProxyResponse{}, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, resp.Body, `"error":"internal_error"`)
}
