package testutil

import (
	"fmt"
	"time"

	"chatbot/internal/chat"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// reconnectDelay keeps reconnect tests fast
const reconnectDelay = 10 * time.Millisecond

// TestEnv is a mock chat server with a connected client.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv("test_token")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//
//	// Register handlers on env.Client, then drive them with env.Server.Emit
type TestEnv struct {
	Server *MockChatServer
	Client *chat.Client
	Logger *zap.Logger
}

// NewTestEnv starts a mock server and connects a client to it
func NewTestEnv(token string) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockChatServer(token)
	client := chat.NewClient(server.URL(), token, logger.Named("chat"), 4)
	client.NewBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(reconnectDelay) }
	if err := client.Connect(); err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	return &TestEnv{Server: server, Client: client, Logger: logger}, nil
}

// Cleanup disconnects the client and stops the server
func (e *TestEnv) Cleanup() {
	e.Client.Close()
	e.Server.Close()
}
