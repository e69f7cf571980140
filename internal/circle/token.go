package circle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/webclipper/internal/cache"
)

const (
	defaultTokenLifetime = time.Hour
	tokenSafetyMargin    = 10 * time.Minute
)

type authTokenResponse struct {
	AccessToken          string `json:"access_token"`
	RefreshToken         string `json:"refresh_token"`
	ExpiresIn            int64  `json:"expires_in"`
	AccessTokenExpiresAt string `json:"access_token_expires_at"`
}

// token converts the response into an oauth2.Token with an absolute expiry.
func (r authTokenResponse) token(now time.Time) *oauth2.Token {
	expiry := now.Add(defaultTokenLifetime)
	at, err := time.Parse(time.RFC3339, r.AccessTokenExpiresAt)
	switch {
	case err == nil:
		expiry = at
	case r.ExpiresIn > 0:
		expiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
}

// cacheTTL keeps a token cached slightly less long than it lives upstream,
// but never less than half its lifetime.
func cacheTTL(lifetime time.Duration) time.Duration {
	if lifetime <= 0 {
		return 0
	}
	ttl := lifetime - tokenSafetyMargin
	if ttl < lifetime/2 {
		ttl = lifetime / 2
	}
	return ttl
}

func tokenKey(email string) string {
	return cache.Key(cache.KindToken, strings.ToLower(strings.TrimSpace(email)))
}

// ResolveAccessToken returns a member access token for email, from cache when
// possible. Errors unwrap to ErrNotConfigured, ErrMemberNotFound,
// ErrUnauthorized, ErrMalformedResponse or ErrUpstream.
func (c *Client) ResolveAccessToken(ctx context.Context, email string) (string, error) {
	key := tokenKey(email)
	if v, ok := c.cache.Get(ctx, key); ok {
		return string(v), nil
	}

	endpoint := c.cfg.APIBase + "/v1/headless/auth_token"
	if !c.Configured() {
		return "", &APIError{Kind: ErrNotConfigured, Endpoint: endpoint, Message: "service credential missing"}
	}

	var out authTokenResponse
	status, err := c.doJSON(ctx, c.cfg.ServiceToken, http.MethodPost, endpoint, map[string]string{"email": email}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Kind == ErrUpstream {
			switch status {
			case http.StatusNotFound:
				apiErr.Kind = ErrMemberNotFound
			case http.StatusUnauthorized, http.StatusForbidden:
				apiErr.Kind = ErrUnauthorized
			}
		}
		c.logFailure("auth_token", err)
		return "", err
	}
	if out.AccessToken == "" {
		return "", &APIError{Kind: ErrMalformedResponse, Endpoint: endpoint, StatusCode: status, Message: "no access_token in response"}
	}

	now := c.now()
	tok := out.token(now)
	if ttl := cacheTTL(tok.Expiry.Sub(now)); ttl > 0 {
		if err := c.cache.Set(ctx, key, []byte(tok.AccessToken), ttl); err != nil {
			slog.Warn("failed to cache access token", "err", err)
		}
	}
	return tok.AccessToken, nil
}

// InvalidateAccessToken drops the cached token for email so the next call
// fetches a fresh one.
func (c *Client) InvalidateAccessToken(ctx context.Context, email string) {
	if err := c.cache.Delete(ctx, tokenKey(email)); err != nil {
		slog.Warn("failed to drop cached access token", "err", err)
	}
}
