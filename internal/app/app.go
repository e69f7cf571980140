package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"

	"github.com/jun/webclipper/internal/apierr"
	"github.com/jun/webclipper/internal/cache"
	"github.com/jun/webclipper/internal/circle"
	"github.com/jun/webclipper/internal/clip"
	"github.com/jun/webclipper/internal/config"
	"github.com/jun/webclipper/internal/crypto"
	"github.com/jun/webclipper/internal/handler"
	"github.com/jun/webclipper/internal/media"
	"github.com/jun/webclipper/internal/preview"
	"github.com/jun/webclipper/internal/ratelimit"
	"github.com/jun/webclipper/internal/secret"
	"github.com/jun/webclipper/internal/session"
)

const devJWTSecret = "default-dev-secret"

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler    *handler.AuthHandler
	clipHandler    *handler.ClipHandler
	previewHandler *handler.PreviewHandler
	spacesHandler  *handler.SpacesHandler
	healthHandler  *handler.HealthHandler

	allowedOrigin string
	originSecret  string
	devMode       bool
}

// NewApp initializes the application from the process environment.
func NewApp(ctx context.Context) *App {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("invalid configuration: %v", err))
	}
	return NewFromConfig(ctx, cfg)
}

// NewFromConfig resolves secrets and builds the cache tier for cfg, then wires the app.
func NewFromConfig(ctx context.Context, cfg *config.Config) *App {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if cfg.DevMode {
		resolver = secret.NewEnvResolver()
		slog.Info("using EnvResolver", "dev_mode", true)
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
		slog.Info("using SSMResolver (SSM Parameter Store)")
	}
	secrets := secret.Load(ctx, resolver, secret.Names{
		CircleAuthToken:    cfg.CircleAuthTokenParam,
		IframelyKey:        cfg.IframelyKeyParam,
		JWTSecret:          cfg.JWTSecretParam,
		OriginVerifySecret: cfg.OriginVerifySecretParam,
	})

	// ---------- Cache ----------
	var store cache.Store
	if cfg.SharedCache() {
		var enc crypto.Encryptor
		if cfg.DevMode {
			enc = crypto.NewMockEncryptor()
			slog.Info("using MockEncryptor", "dev_mode", true)
		} else {
			enc = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
		}
		store = cache.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.CacheTable, enc)
		slog.Info("using DynamoDB cache", "table", cfg.CacheTable)
	} else {
		store = cache.NewMemoryStore()
		slog.Info("using in-memory cache")
	}

	return New(cfg, secrets, store)
}

// New wires handlers from resolved configuration, secrets and a cache store.
func New(cfg *config.Config, secrets secret.Bundle, store cache.Store) *App {
	jwtSecret := secrets.JWTSecret
	if jwtSecret == "" && cfg.DevMode {
		slog.Warn("JWT secret not configured, using development secret")
		jwtSecret = devJWTSecret
	}
	if jwtSecret == "" {
		slog.Error("JWT secret not configured, sessions cannot be issued")
	}
	if secrets.CircleAuthToken == "" {
		slog.Error("upstream service credential not configured")
	}

	sessions := session.NewManager(jwtSecret,
		session.WithTTL(cfg.SessionTTL),
		session.WithIssuer(cfg.SessionIssuer),
	)

	circleClient := circle.NewClient(circle.Config{
		APIBase:      cfg.CircleAPIBase,
		HeadlessBase: cfg.CircleHeadlessBase,
		PostsPath:    cfg.CirclePostsPath,
		PostType:     cfg.CirclePostType,
		ServiceToken: secrets.CircleAuthToken,
		Timeout:      cfg.UpstreamTimeout,
	}, store)

	fetcher := preview.NewFetcher(preview.Config{
		IframelyBase: cfg.IframelyAPIBase,
		APIKey:       secrets.IframelyKey,
		OEmbedBase:   cfg.YouTubeOEmbedBase,
		Timeout:      cfg.PreviewTimeout,
	}, store)

	relay := media.NewRelay(circleClient, media.WithTimeout(cfg.DownloadTimeout))

	clips := clip.NewService(circleClient, fetcher, relay, circleClient,
		clip.WithLimits(cfg.MaxMediaBytes, cfg.MaxThumbnailBytes),
	)

	return &App{
		authHandler:    handler.NewAuthHandler(sessions, circleClient, ratelimit.New(ratelimit.Auth), cfg.DevMode),
		clipHandler:    handler.NewClipHandler(sessions, clips, cfg.DevMode),
		previewHandler: handler.NewPreviewHandler(sessions, fetcher, ratelimit.New(ratelimit.Preview), cfg.DevMode),
		spacesHandler:  handler.NewSpacesHandler(sessions, circleClient, circleClient, cfg.DevMode),
		healthHandler: handler.NewHealthHandler(handler.Services{
			CircleAPI:   circleClient.Configured(),
			IframelyAPI: fetcher.Configured(),
			JWTSecret:   sessions.Configured(),
			SharedCache: cfg.SharedCache(),
		}, cfg.Environment, time.Now),
		allowedOrigin: cfg.AllowedOrigin,
		originSecret:  secrets.OriginVerifySecret,
		devMode:       cfg.DevMode,
	}
}

// route is one method+path entry of the API.
type route struct {
	method string
	handle func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

func (app *App) routes() map[string]route {
	return map[string]route{
		"/auth":    {http.MethodPost, app.authHandler.Login},
		"/clip":    {http.MethodPost, app.clipHandler.Clip},
		"/preview": {http.MethodGet, app.previewHandler.Get},
		"/spaces":  {http.MethodGet, app.spacesHandler.List},
		"/health":  {http.MethodGet, app.healthHandler.Check},
	}
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	requestID := uuid.NewString()
	method := req.HTTPMethod
	path := req.Path
	start := time.Now()

	slog.Info("request", "id", requestID, "method", method, "path", path)
	resp := app.dispatch(ctx, req)
	resp = app.corsResponse(resp)
	resp.Headers["X-Request-Id"] = requestID
	slog.Info("response", "id", requestID, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (app *App) dispatch(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	// CORS Preflight
	if req.HTTPMethod == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	}

	// Requests must come through CloudFront when an origin secret is configured.
	if !app.devMode && app.originSecret != "" && handler.Header(req, "X-Origin-Verify") != app.originSecret {
		slog.Warn("security block: missing or invalid X-Origin-Verify header")
		return handler.ErrorResponse(apierr.Forbidden("Forbidden: Access denied"), app.devMode)
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path := strings.TrimPrefix(req.Path, "/api")
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	if req.IsBase64Encoded {
		body, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return handler.ErrorResponse(apierr.Validation("body", "Invalid base64 body"), app.devMode)
		}
		req.Body = string(body)
		req.IsBase64Encoded = false
	}

	r, ok := app.routes()[path]
	if !ok {
		return handler.ErrorResponse(apierr.NotFound(fmt.Sprintf("Not Found: %s %s", req.HTTPMethod, path), nil), app.devMode)
	}
	if r.method != req.HTTPMethod {
		return handler.ErrorResponse(apierr.MethodNotAllowed(req.HTTPMethod), app.devMode)
	}
	return app.must(r.handle(ctx, req))
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	origin := app.allowedOrigin
	if origin == "" {
		origin = "*"
	}
	resp.Headers["Access-Control-Allow-Origin"] = origin
	if origin != "*" {
		resp.Headers["Access-Control-Allow-Credentials"] = "true"
	}
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	resp.Headers["Access-Control-Max-Age"] = "86400"
	return resp
}

// must unwraps a handler response, turning an error into a 500 envelope.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		return handler.ErrorResponse(apierr.Internal("Internal Server Error", err), app.devMode)
	}
	return resp
}
