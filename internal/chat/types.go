package chat

import (
	"encoding/json"

	"chatbot/pkg/event"
)

// Message types exchanged with the chat server.
const (
	TypeAuthRequired = "auth_required"
	TypeAuth         = "auth"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"
	TypeEvent        = "event"
	TypeResult       = "result"
	TypeSendMessage  = "send_message"
)

// Message is the envelope of every websocket frame to or from the server
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *event.Event    `json:"event,omitempty"`
}

// Error is an error response from the server
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage is the authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// SendMessageRequest sends a message to a room. TxnID makes retries
// idempotent on the server side.
type SendMessageRequest struct {
	ID      int                  `json:"id"`
	Type    string               `json:"type"`
	RoomID  string               `json:"room_id"`
	TxnID   string               `json:"txn_id"`
	Content event.MessageContent `json:"content"`
}

// SendMessageResult is the result of a send_message request
type SendMessageResult struct {
	EventID string `json:"event_id"`
}
