package circle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// DirectUpload is a one-time upload slot.
type DirectUpload struct {
	SignedID string
	URL      string
	Headers  map[string]string
}

type directUploadResponse struct {
	SignedID     string `json:"signed_id"`
	DirectUpload struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"direct_upload"`
}

// CreateDirectUpload asks the platform for an upload slot for a blob of the
// given name, type and size.
func (c *Client) CreateDirectUpload(ctx context.Context, accessToken, filename, contentType string, size int64) (*DirectUpload, error) {
	endpoint := c.cfg.HeadlessBase + "/direct_uploads"
	payload := map[string]any{
		"blob": map[string]any{
			"filename":     filename,
			"content_type": contentType,
			"byte_size":    size,
		},
	}

	var out directUploadResponse
	status, err := c.doJSON(ctx, accessToken, http.MethodPost, endpoint, payload, &out)
	if err != nil {
		c.logFailure("direct_upload", err)
		return nil, err
	}
	if out.SignedID == "" || out.DirectUpload.URL == "" {
		return nil, &APIError{Kind: ErrMalformedResponse, Endpoint: endpoint, StatusCode: status, Message: "direct upload response missing signed_id or url"}
	}
	return &DirectUpload{
		SignedID: out.SignedID,
		URL:      out.DirectUpload.URL,
		Headers:  out.DirectUpload.Headers,
	}, nil
}

// UploadToSignedURL PUTs data to an upload slot. The slot URL carries its
// own authorization, so no bearer token is sent.
func (c *Client) UploadToSignedURL(ctx context.Context, upload *DirectUpload, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, upload.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	for k, v := range upload.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Kind: ErrUpstream, Endpoint: "signed_upload", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := &APIError{
			Kind:       ErrUpstream,
			Endpoint:   "signed_upload",
			StatusCode: resp.StatusCode,
			Message:    "upload to signed URL failed",
			Body:       string(body),
		}
		c.logFailure("signed_upload", err)
		return err
	}
	return nil
}
