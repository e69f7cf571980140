// Package config loads the backend configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Environment keys.
const (
	KeyDevMode            = "DEV_MODE"
	KeyAppEnv             = "APP_ENV"
	KeyPort               = "PORT"
	KeyAllowedOrigin      = "ALLOWED_ORIGIN"
	KeyCircleAPIBase      = "CIRCLE_API_BASE"
	KeyCircleHeadlessBase = "CIRCLE_HEADLESS_BASE"
	KeyCirclePostsPath    = "CIRCLE_POSTS_PATH"
	KeyCirclePostType     = "CIRCLE_POST_TYPE"
	KeyIframelyAPIBase    = "IFRAMELY_API_BASE"
	KeyYouTubeOEmbedBase  = "YOUTUBE_OEMBED_BASE"
	KeyMaxMediaBytes      = "MAX_MEDIA_BYTES"
	KeyMaxThumbnailBytes  = "MAX_THUMBNAIL_BYTES"
	KeyPreviewTimeout     = "PREVIEW_TIMEOUT"
	KeyDownloadTimeout    = "DOWNLOAD_TIMEOUT"
	KeyUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	KeySessionTTL         = "SESSION_TTL"
	KeySessionIssuer      = "SESSION_ISSUER"
	KeyCacheTable         = "CACHE_TABLE"
	KeyKMSKeyID           = "KMS_KEY_ID"

	KeyCircleAuthTokenParam    = "CIRCLE_AUTH_TOKEN_PARAM"
	KeyIframelyKeyParam        = "IFRAMELY_KEY_PARAM"
	KeyJWTSecretParam          = "JWT_SECRET_PARAM"
	KeyOriginVerifySecretParam = "ORIGIN_VERIFY_SECRET_PARAM"
)

// Config is the resolved backend configuration. Secret values are not held
// here; only the parameter names used to resolve them.
type Config struct {
	DevMode       bool
	Environment   string
	Port          int
	AllowedOrigin string

	CircleAPIBase      string
	CircleHeadlessBase string
	CirclePostsPath    string
	CirclePostType     string
	IframelyAPIBase    string
	YouTubeOEmbedBase  string

	MaxMediaBytes     int64
	MaxThumbnailBytes int64
	PreviewTimeout    time.Duration
	DownloadTimeout   time.Duration
	UpstreamTimeout   time.Duration

	SessionTTL    time.Duration
	SessionIssuer string

	CacheTable string
	KMSKeyID   string

	CircleAuthTokenParam    string
	IframelyKeyParam        string
	JWTSecretParam          string
	OriginVerifySecretParam string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDevMode, false)
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyAllowedOrigin, "*")
	v.SetDefault(KeyCircleAPIBase, "https://app.circle.so/api")
	v.SetDefault(KeyCircleHeadlessBase, "https://app.circle.so/api/headless/v1")
	v.SetDefault(KeyCirclePostsPath, "/posts")
	v.SetDefault(KeyCirclePostType, "basic")
	v.SetDefault(KeyIframelyAPIBase, "https://iframe.ly/api/iframely")
	v.SetDefault(KeyYouTubeOEmbedBase, "https://www.youtube.com/oembed")
	v.SetDefault(KeyMaxMediaBytes, 25<<20)
	v.SetDefault(KeyMaxThumbnailBytes, 5<<20)
	v.SetDefault(KeyPreviewTimeout, 10*time.Second)
	v.SetDefault(KeyDownloadTimeout, 30*time.Second)
	v.SetDefault(KeyUpstreamTimeout, 30*time.Second)
	v.SetDefault(KeySessionTTL, 24*time.Hour)
	v.SetDefault(KeySessionIssuer, "web-clipper")
	v.SetDefault(KeyCacheTable, "")
	v.SetDefault(KeyKMSKeyID, "alias/webclipper-token-key")
	v.SetDefault(KeyCircleAuthTokenParam, "/webclipper/circle-auth-token")
	v.SetDefault(KeyIframelyKeyParam, "/webclipper/iframely-key")
	v.SetDefault(KeyJWTSecretParam, "/webclipper/jwt-secret")
	v.SetDefault(KeyOriginVerifySecretParam, "/webclipper/origin-verify-secret")
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance and
// validates it. cmd/server uses this after binding its flags.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DevMode:       v.GetBool(KeyDevMode),
		Environment:   v.GetString(KeyAppEnv),
		Port:          v.GetInt(KeyPort),
		AllowedOrigin: v.GetString(KeyAllowedOrigin),

		CircleAPIBase:      v.GetString(KeyCircleAPIBase),
		CircleHeadlessBase: v.GetString(KeyCircleHeadlessBase),
		CirclePostsPath:    v.GetString(KeyCirclePostsPath),
		CirclePostType:     v.GetString(KeyCirclePostType),
		IframelyAPIBase:    v.GetString(KeyIframelyAPIBase),
		YouTubeOEmbedBase:  v.GetString(KeyYouTubeOEmbedBase),

		MaxMediaBytes:     v.GetInt64(KeyMaxMediaBytes),
		MaxThumbnailBytes: v.GetInt64(KeyMaxThumbnailBytes),
		PreviewTimeout:    v.GetDuration(KeyPreviewTimeout),
		DownloadTimeout:   v.GetDuration(KeyDownloadTimeout),
		UpstreamTimeout:   v.GetDuration(KeyUpstreamTimeout),

		SessionTTL:    v.GetDuration(KeySessionTTL),
		SessionIssuer: v.GetString(KeySessionIssuer),

		CacheTable: v.GetString(KeyCacheTable),
		KMSKeyID:   v.GetString(KeyKMSKeyID),

		CircleAuthTokenParam:    v.GetString(KeyCircleAuthTokenParam),
		IframelyKeyParam:        v.GetString(KeyIframelyKeyParam),
		JWTSecretParam:          v.GetString(KeyJWTSecretParam),
		OriginVerifySecretParam: v.GetString(KeyOriginVerifySecretParam),
	}
	if cfg.Environment == "" {
		if cfg.DevMode {
			cfg.Environment = "development"
		} else {
			cfg.Environment = "production"
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits, timeouts and base URLs.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s must be a valid port, got %d", KeyPort, c.Port))
	}
	if c.MaxMediaBytes <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxMediaBytes))
	}
	if c.MaxThumbnailBytes <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxThumbnailBytes))
	}
	for key, d := range map[string]time.Duration{
		KeyPreviewTimeout:  c.PreviewTimeout,
		KeyDownloadTimeout: c.DownloadTimeout,
		KeyUpstreamTimeout: c.UpstreamTimeout,
		KeySessionTTL:      c.SessionTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", key))
		}
	}
	for key, raw := range map[string]string{
		KeyCircleAPIBase:      c.CircleAPIBase,
		KeyCircleHeadlessBase: c.CircleHeadlessBase,
		KeyIframelyAPIBase:    c.IframelyAPIBase,
		KeyYouTubeOEmbedBase:  c.YouTubeOEmbedBase,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw))
		}
	}
	if c.SessionIssuer == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeySessionIssuer))
	}

	return errors.Join(errs...)
}

// SharedCache reports whether a DynamoDB cache table is configured.
func (c *Config) SharedCache() bool {
	return c.CacheTable != ""
}

// ClipBudget is the longest a clip request can run when every upstream call
// uses its full timeout: the token fetch, the parallel preview and media
// relays, the serial thumbnail relay, the post, and one token refresh with
// a second post. A relay is a download plus an upload slot and a signed PUT.
func (c *Config) ClipBudget() time.Duration {
	relay := c.DownloadTimeout + 2*c.UpstreamTimeout
	parallel := max(2*c.PreviewTimeout, relay)
	return c.UpstreamTimeout + parallel + relay + c.UpstreamTimeout + 2*c.UpstreamTimeout
}
