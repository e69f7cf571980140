// Package secret resolves the backend's credentials from SSM Parameter Store
// in production or from environment variables in DEV_MODE.
package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when a secret does not exist in the backend.
var ErrNotFound = errors.New("secret not found")

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches secrets from AWS Systems Manager Parameter Store.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) Resolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a SecureString parameter from SSM with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("ssm parameter %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", fmt.Errorf("ssm parameter %q has no value: %w", name, ErrNotFound)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver fetches secrets from environment variables. The parameter name
// "/webclipper/jwt-secret" maps to JWT_SECRET.
type EnvResolver struct{}

// NewEnvResolver returns a Resolver that reads from environment variables.
func NewEnvResolver() Resolver {
	return &EnvResolver{}
}

// GetSecret reads from the environment variable derived from the parameter name.
func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q): %w", envName, name, ErrNotFound)
	}
	return val, nil
}

// paramNameToEnvVar converts an SSM parameter name to an environment variable name.
// "/webclipper/jwt-secret" -> "JWT_SECRET"
// "/webclipper/circle-auth-token" -> "CIRCLE_AUTH_TOKEN"
func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// Names lists the parameter names of the backend's secrets.
type Names struct {
	CircleAuthToken    string
	IframelyKey        string
	JWTSecret          string
	OriginVerifySecret string
}

// Bundle holds resolved secret values. A missing secret is left empty; each
// consumer decides whether that is fatal.
type Bundle struct {
	CircleAuthToken    string
	IframelyKey        string
	JWTSecret          string
	OriginVerifySecret string
}

// Load resolves every secret in names. Failures are logged by parameter name
// and leave the corresponding field empty.
func Load(ctx context.Context, r Resolver, names Names) Bundle {
	get := func(label, param string) string {
		if param == "" {
			return ""
		}
		val, err := r.GetSecret(ctx, param)
		if err != nil {
			slog.Warn("secret unavailable", "secret", label, "param", param, "err", err)
			return ""
		}
		return val
	}

	return Bundle{
		CircleAuthToken:    get("circle_auth_token", names.CircleAuthToken),
		IframelyKey:        get("iframely_key", names.IframelyKey),
		JWTSecret:          get("jwt_secret", names.JWTSecret),
		OriginVerifySecret: get("origin_verify_secret", names.OriginVerifySecret),
	}
}
