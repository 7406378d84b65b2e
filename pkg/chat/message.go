// Package chat provides the conversation message model and the
// client-side types for an Ollama-compatible chat completion API.
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentBlock is a single piece of message content.
type ContentBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text,omitempty"`
}

// Message represents a single message in a conversation.
// Every message carries a stable ID so merges can replace in place.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Model     string         `json:"model,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh ID and a UTC timestamp.
func NewMessage(role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   []ContentBlock{{Type: "text", Text: text}},
		CreatedAt: time.Now().UTC(),
	}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Wire converts messages to the wire representation sent upstream.
func Wire(msgs []Message) []WireMessage {
	out := make([]WireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = WireMessage{Role: m.Role, Content: m.Text()}
	}
	return out
}
