// Package testutil provides a mock chat server and helpers for integration
// tests of plugins and the host.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"chatbot/internal/chat"
	"chatbot/pkg/event"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a websocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *connWrapper) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// SentMessage is a send_message request received by the server
type SentMessage struct {
	Timestamp time.Time
	RoomID    string
	TxnID     string
	Content   event.MessageContent
	EventID   string
}

// MockChatServer speaks the chat websocket protocol on a local httptest
// server. Messages sent by clients are recorded and answered with a
// generated event ID; Emit pushes events to every authenticated client.
type MockChatServer struct {
	server *httptest.Server
	token  string

	connsMu     sync.Mutex
	connections []*connWrapper

	sentMu sync.Mutex
	sent   []SentMessage
	txns   map[string]string
}

// NewMockChatServer starts a server that accepts token
func NewMockChatServer(token string) *MockChatServer {
	s := &MockChatServer{
		token: token,
		txns:  make(map[string]string),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	return s
}

// URL returns the websocket URL of the server
func (s *MockChatServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// Close disconnects every client and stops the server
func (s *MockChatServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// DropConnections closes every client connection without stopping the
// server, so clients can reconnect.
func (s *MockChatServer) DropConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
}

// Connections returns the number of authenticated clients
func (s *MockChatServer) Connections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.connections)
}

// Emit sends an event to every authenticated client
func (s *MockChatServer) Emit(evt *event.Event) error {
	s.connsMu.Lock()
	conns := append([]*connWrapper(nil), s.connections...)
	s.connsMu.Unlock()

	for _, wrapper := range conns {
		if err := wrapper.writeJSON(chat.Message{Type: chat.TypeEvent, Event: evt}); err != nil {
			return fmt.Errorf("failed to emit event: %w", err)
		}
	}
	return nil
}

// EmitText sends a text message event from sender to room
func (s *MockChatServer) EmitText(room, sender, body string) error {
	content, err := json.Marshal(event.MessageContent{MsgType: event.MsgText, Body: body})
	if err != nil {
		return err
	}
	return s.Emit(&event.Event{
		ID:      fmt.Sprintf("$in%d", time.Now().UnixNano()),
		Type:    event.TypeMessage,
		RoomID:  room,
		Sender:  sender,
		Content: content,
	})
}

// SentMessages returns a copy of the recorded messages
func (s *MockChatServer) SentMessages() []SentMessage {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// ClearSentMessages forgets the recorded messages
func (s *MockChatServer) ClearSentMessages() {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	s.sent = nil
}

func (s *MockChatServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn}
	defer s.remove(wrapper)

	if err := wrapper.writeJSON(chat.Message{Type: chat.TypeAuthRequired}); err != nil {
		return
	}

	var auth chat.AuthMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.writeJSON(chat.Message{Type: chat.TypeAuthInvalid})
		return
	}

	// Register before auth_ok so an Emit right after Connect is delivered
	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	if err := wrapper.writeJSON(chat.Message{Type: chat.TypeAuthOK}); err != nil {
		return
	}

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}

		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		if base.Type == chat.TypeSendMessage {
			s.handleSendMessage(wrapper, raw)
		}
	}
}

func (s *MockChatServer) handleSendMessage(wrapper *connWrapper, raw json.RawMessage) {
	var req chat.SendMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	s.sentMu.Lock()
	eventID, seen := s.txns[req.TxnID]
	if !seen {
		eventID = fmt.Sprintf("$out%d", len(s.sent)+1)
		s.txns[req.TxnID] = eventID
		s.sent = append(s.sent, SentMessage{
			Timestamp: time.Now(),
			RoomID:    req.RoomID,
			TxnID:     req.TxnID,
			Content:   req.Content,
			EventID:   eventID,
		})
	}
	s.sentMu.Unlock()

	result, _ := json.Marshal(chat.SendMessageResult{EventID: eventID})
	success := true
	wrapper.writeJSON(chat.Message{ID: req.ID, Type: chat.TypeResult, Success: &success, Result: result})
}

func (s *MockChatServer) remove(wrapper *connWrapper) {
	s.connsMu.Lock()
	for i, w := range s.connections {
		if w == wrapper {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			break
		}
	}
	s.connsMu.Unlock()
	wrapper.conn.Close()
}
