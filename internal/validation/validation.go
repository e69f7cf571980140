// Package validation checks request input before any upstream work starts.
// Failures are *apierr.Error values of kind validation naming the field.
package validation

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jun/webclipper/internal/apierr"
	"github.com/jun/webclipper/internal/model"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateEmail returns the trimmed, lower-cased address.
func ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", apierr.Validation("email", "Email is required")
	}
	if !emailPattern.MatchString(email) {
		return "", apierr.Validation("email", "Invalid email format")
	}
	return strings.ToLower(email), nil
}

// ValidateURL checks that raw is an absolute http(s) URL and returns its
// normalized form.
func ValidateURL(raw, field string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apierr.Validation(field, field+" is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", apierr.Validation(field, "Invalid "+field+" format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apierr.Validation(field, field+" must use HTTP or HTTPS protocol")
	}
	return u.String(), nil
}

// ValidateClipRequest requires at least one of title, selectedText or url
// and checks every URL that is present. URLs are normalized in place.
func ValidateClipRequest(req *model.ClipRequest) error {
	if strings.TrimSpace(req.Title) == "" &&
		strings.TrimSpace(req.SelectedText) == "" &&
		strings.TrimSpace(req.URL) == "" {
		return apierr.Validation("", "At least one of title, selectedText, or url is required")
	}

	for _, f := range []struct {
		name string
		val  *string
	}{
		{"url", &req.URL},
		{"imageUrl", &req.ImageURL},
		{"mediaUrl", &req.MediaURL},
	} {
		if strings.TrimSpace(*f.val) == "" {
			*f.val = ""
			continue
		}
		v, err := ValidateURL(*f.val, f.name)
		if err != nil {
			return err
		}
		*f.val = v
	}
	return nil
}
