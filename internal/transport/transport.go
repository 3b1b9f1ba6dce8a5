package transport

import (
	"context"

	"github.com/openmodqueue/openmodqueue/internal/models"
)

// ChatTransport sends messages to recipients on the chat platform. Target is
// the platform recipient ID (a user chat, a channel, or a group).
type ChatTransport interface {
	// SendMessage delivers a plain text message.
	SendMessage(ctx context.Context, target, text string) error
	// SendMediaGroup delivers one batch of media items as a single grouped
	// post with an optional caption. Callers bound the batch size.
	SendMediaGroup(ctx context.Context, target string, media []models.MediaRef, caption string) error
}

// PushClient delivers notification payloads to off-platform push endpoints.
type PushClient interface {
	Send(ctx context.Context, endpoint, payload string) error
}
