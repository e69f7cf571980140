package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "*", cfg.AllowedOrigin)
	assert.Equal(t, int64(25<<20), cfg.MaxMediaBytes)
	assert.Equal(t, int64(5<<20), cfg.MaxThumbnailBytes)
	assert.Equal(t, 10*time.Second, cfg.PreviewTimeout)
	assert.Equal(t, 30*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "web-clipper", cfg.SessionIssuer)
	assert.Equal(t, "/webclipper/jwt-secret", cfg.JWTSecretParam)
	assert.False(t, cfg.SharedCache())
}

func TestClipBudget(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	// 30s token + 90s relay + 90s thumbnail + 30s post + 60s refresh and retry.
	assert.Equal(t, 300*time.Second, cfg.ClipBudget())

	cfg.DownloadTimeout = time.Second
	cfg.UpstreamTimeout = time.Second
	cfg.PreviewTimeout = 10 * time.Second
	// The preview chain (20s) now dominates the parallel stage.
	assert.Equal(t, 1*time.Second+20*time.Second+3*time.Second+3*time.Second, cfg.ClipBudget())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("PREVIEW_TIMEOUT", "3s")
	t.Setenv("MAX_MEDIA_BYTES", "1048576")
	t.Setenv("CACHE_TABLE", "ClipCache")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.DevMode)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.PreviewTimeout)
	assert.Equal(t, int64(1<<20), cfg.MaxMediaBytes)
	assert.True(t, cfg.SharedCache())
}

func TestLoad_EnvironmentNameDefaultsToProduction(t *testing.T) {
	t.Setenv("DEV_MODE", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

func TestFromViper_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"zero port", KeyPort, 0},
		{"negative media ceiling", KeyMaxMediaBytes, -1},
		{"zero timeout", KeyPreviewTimeout, "0s"},
		{"relative base url", KeyCircleAPIBase, "/api"},
		{"non-http base url", KeyIframelyAPIBase, "ftp://iframe.ly"},
		{"empty issuer", KeySessionIssuer, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.val)
			_, err := FromViper(v)
			assert.ErrorContains(t, err, tt.key)
		})
	}
}
