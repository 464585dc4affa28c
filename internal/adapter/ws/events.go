package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventBuildStage     = "build.stage"
	EventAssistantReply = "assistant.reply"
)

// AssistantReplyEvent is broadcast when a request has been answered.
type AssistantReplyEvent struct {
	RequestID string `json:"request_id"`
	Intent    string `json:"intent"`
	Path      string `json:"path"` // "clarify", "fast", "agent", "build"
	BuildID   string `json:"build_id,omitempty"`
	Text      string `json:"text"`
}

// BroadcastEvent marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
