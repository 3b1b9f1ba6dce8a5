package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPPushClient posts notification payloads to arbitrary push endpoints.
// Delivery outcomes are reported to the caller; retry policy lives in the
// notification queue, not here.
type HTTPPushClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPPushClient creates a push client with a per-request timeout.
func NewHTTPPushClient(timeout time.Duration, logger *zap.Logger) *HTTPPushClient {
	return &HTTPPushClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Send posts the payload as JSON to the endpoint. Any non-2xx status is an
// error so the queue can schedule a retry.
func (c *HTTPPushClient) Send(ctx context.Context, endpoint, payload string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(payload)))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil && c.logger != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
