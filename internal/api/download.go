package api

import (
	"athena/internal/models"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Download opens the content of an attachment. Relative URLs are resolved
// against the backend; without a URL the file is fetched by id.
func (c *Client) Download(ctx context.Context, att models.Attachment) (io.ReadCloser, error) {
	var target string
	switch {
	case att.URL != "":
		ref, err := url.Parse(att.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid attachment url: %w", err)
		}
		target = c.base.ResolveReference(ref).String()
	case att.FileID != "":
		target = c.endpoint("/api/arquivos/"+url.PathEscape(att.FileID), nil)
	default:
		return nil, errors.New("attachment has neither url nor id")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set(requestIDHeader, reqID)
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	c.log.Debug("download",
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration", time.Since(start),
	)
	if err := checkStatus(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}
