package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
)

// HTTPChatClient speaks to a chat platform bot gateway over its HTTP API.
type HTTPChatClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type mediaItem struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

type sendMediaGroupRequest struct {
	ChatID string      `json:"chat_id"`
	Media  []mediaItem `json:"media"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewHTTPChatClient creates a chat client against the given gateway base URL.
func NewHTTPChatClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPChatClient {
	return &HTTPChatClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SendMessage delivers a plain text message to the target chat.
func (c *HTTPChatClient) SendMessage(ctx context.Context, target, text string) error {
	return c.call(ctx, "/sendMessage", sendMessageRequest{ChatID: target, Text: text})
}

// SendMediaGroup delivers one media batch as a grouped post. The caption is
// attached to the first item, which the platform renders for the whole group.
func (c *HTTPChatClient) SendMediaGroup(ctx context.Context, target string, media []models.MediaRef, caption string) error {
	if len(media) == 0 {
		return fmt.Errorf("empty media group for target %s", target)
	}
	items := make([]mediaItem, len(media))
	for i, m := range media {
		items[i] = mediaItem{Type: m.Type, Media: m.Ref}
		if i == 0 {
			items[i].Caption = caption
		}
	}
	return c.call(ctx, "/sendMediaGroup", sendMediaGroupRequest{ChatID: target, Media: items})
}

func (c *HTTPChatClient) call(ctx context.Context, path string, body interface{}) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat gateway request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil && c.logger != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("chat gateway error: %s", apiResp.Description)
	}
	return nil
}
