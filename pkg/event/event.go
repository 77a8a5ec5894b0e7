// Package event provides the public event types shared by the chat client
// and plugins. Plugins receive *Event values through handlers they declare;
// the chat client implementation lives in internal/chat.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of event delivered by the chat client.
type Type string

// Event types understood by the built-in chat client.
const (
	TypeMessage  Type = "message"
	TypeMember   Type = "member"
	TypeReaction Type = "reaction"
	TypeRedact   Type = "redaction"

	// TypeAny matches every event type. Handlers registered under TypeAny
	// receive all events after the type-specific handlers.
	TypeAny Type = "*"
)

// Event is a single event received from the chat server.
type Event struct {
	ID        string          `json:"event_id"`
	Type      Type            `json:"type"`
	RoomID    string          `json:"room_id"`
	Sender    string          `json:"sender"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"origin_server_ts"`
}

// MessageContent is the content of a TypeMessage event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// Message decodes the content of a message event.
func (e *Event) Message() (*MessageContent, error) {
	if e.Type != TypeMessage {
		return nil, fmt.Errorf("event %s is %q, not a message", e.ID, e.Type)
	}

	var content MessageContent
	if err := json.Unmarshal(e.Content, &content); err != nil {
		return nil, fmt.Errorf("failed to decode message content: %w", err)
	}
	return &content, nil
}

// Message types for MessageContent.MsgType.
const (
	MsgText   = "m.text"
	MsgNotice = "m.notice"
)

// Sender sends messages to rooms. The chat client implements it; plugins
// reach it by asserting their bus to Sender.
type Sender interface {
	SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error)
}
