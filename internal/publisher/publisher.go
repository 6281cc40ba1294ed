// Package publisher posts record batches to the ingestion API.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
	"github.com/valueprops/ingest-adapter/pkg/types"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

// BatchPublisher delivers one batch with a bearer token.
type BatchPublisher interface {
	Publish(ctx context.Context, batch types.Batch, token string) error
}

// Client posts batches to {baseURL}/{kind}.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a publisher. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return NewClientWithHTTP(&http.Client{Timeout: timeout}, baseURL, logger)
}

// NewClientWithHTTP creates a publisher with a pre-configured HTTP client.
func NewClientWithHTTP(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// Endpoint returns the ingestion route for kind.
func (c *Client) Endpoint(kind types.Kind) string {
	return c.baseURL + "/" + kind.String()
}

// Publish sends the batch as a JSON array. Any transport failure or non-2xx
// response is returned as a PUBLISH error carrying the URL and status.
func (c *Client) Publish(ctx context.Context, batch types.Batch, token string) error {
	url := c.Endpoint(batch.Kind)
	requestID := uuid.New().String()

	body, err := json.Marshal(batch)
	if err != nil {
		return ierrors.NewInternalError("failed to encode batch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ierrors.NewPublishError(ierrors.CodePublishFailed, "failed to build publish request", err).
			WithDetails(map[string]interface{}{"url": url})
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ierrors.NewPublishError(ierrors.CodePublishFailed, "publish request failed", err).
			WithDetails(map[string]interface{}{"url": url, "request_id": requestID})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ierrors.NewPublishError(ierrors.CodePublishFailed,
			fmt.Sprintf("ingestion API returned status %d for %s", resp.StatusCode, url), nil).
			WithDetails(map[string]interface{}{
				"url":        url,
				"status":     resp.StatusCode,
				"request_id": requestID,
				"response":   string(snippet),
			})
	}
	io.Copy(io.Discard, resp.Body)

	c.logger.Info("batch published",
		"kind", batch.Kind.String(),
		"batch", batch.Index,
		"records", batch.Len(),
		"status", resp.StatusCode,
		"request_id", requestID,
	)
	return nil
}
