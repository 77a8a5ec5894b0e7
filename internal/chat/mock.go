package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatbot/pkg/event"
)

// SentMessage records a message sent through MockClient
type SentMessage struct {
	RoomID  string
	Content event.MessageContent
	EventID string
	Time    time.Time
}

// MockClient implements ChatClient for testing. Events passed to Emit are
// dispatched synchronously.
type MockClient struct {
	*event.Dispatcher

	connected bool
	connMu    sync.RWMutex
	sent      []SentMessage
	sentMu    sync.Mutex

	// SendErr, if set, is returned by SendMessage.
	SendErr error
}

// NewMockClient creates a new mock chat client
func NewMockClient() *MockClient {
	return &MockClient{
		Dispatcher: event.NewDispatcher(),
	}
}

// Connect simulates connecting to the chat server
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return ErrAlreadyConnected
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.connected = false
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// SendMessage records the message
func (m *MockClient) SendMessage(ctx context.Context, roomID string, content event.MessageContent) (string, error) {
	if m.SendErr != nil {
		return "", m.SendErr
	}
	if content.MsgType == "" {
		content.MsgType = event.MsgText
	}

	m.sentMu.Lock()
	defer m.sentMu.Unlock()

	eventID := fmt.Sprintf("$sent%d", len(m.sent)+1)
	m.sent = append(m.sent, SentMessage{
		RoomID:  roomID,
		Content: content,
		EventID: eventID,
		Time:    time.Now(),
	})
	return eventID, nil
}

// Emit simulates an event arriving from the server
func (m *MockClient) Emit(ctx context.Context, evt *event.Event) error {
	return m.Dispatch(ctx, evt)
}

// GetSentMessages returns all recorded messages
func (m *MockClient) GetSentMessages() []SentMessage {
	m.sentMu.Lock()
	defer m.sentMu.Unlock()

	return append([]SentMessage(nil), m.sent...)
}

// ClearSentMessages clears recorded messages
func (m *MockClient) ClearSentMessages() {
	m.sentMu.Lock()
	defer m.sentMu.Unlock()

	m.sent = nil
}
