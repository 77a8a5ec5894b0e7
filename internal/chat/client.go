// Package chat implements the websocket chat client. Received events are
// fanned out to the handlers plugins register through the event.Bus the
// client embeds.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatbot/pkg/event"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Client errors.
var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrAuthFailed       = errors.New("authentication failed: invalid token")
)

const requestTimeout = 10 * time.Second

// ChatClient defines the interface of the chat client used by the host
type ChatClient interface {
	event.Bus
	event.Sender
	Connect() error
	Disconnect() error
	IsConnected() bool
}

// Client implements ChatClient over a websocket connection
type Client struct {
	*event.Dispatcher

	url       string
	token     string
	logger    *zap.Logger
	pool      *ants.Pool
	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	msgID     int
	msgIDMu   sync.Mutex
	pending   map[int]chan Message
	pendingMu sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool
	writeMu   sync.Mutex // Protects websocket writes

	// NewBackOff builds the reconnect policy. It is called once per
	// connection loss.
	NewBackOff func() backoff.BackOff
}

// NewClient creates a chat client. Event handlers run on a pool of workers
// owned by the client; with workers <= 0 each event is dispatched on its own
// goroutine. The pool never blocks the receive loop: when every worker is
// busy the event gets a goroutine of its own.
func NewClient(url, token string, logger *zap.Logger, workers int) *Client {
	var pool *ants.Pool
	if workers > 0 {
		var err error
		pool, err = ants.NewPool(workers, ants.WithNonblocking(true))
		if err != nil {
			logger.Warn("Failed to create event worker pool, using goroutines", zap.Error(err))
			pool = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		Dispatcher: event.NewDispatcher(),
		url:        url,
		token:      token,
		logger:     logger,
		pool:       pool,
		pending:    make(map[int]chan Message),
		ctx:        ctx,
		cancel:     cancel,
		reconnect:  true,
		NewBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Connect establishes the websocket connection and authenticates
func (c *Client) Connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to chat server", zap.String("url", c.url))

	go c.receiveMessages(c.ctx, conn)
	return nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != TypeAuthRequired {
		return fmt.Errorf("expected %s, got %s", TypeAuthRequired, authRequired.Type)
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(AuthMessage{Type: TypeAuth, AccessToken: c.token})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch authResponse.Type {
	case TypeAuthOK:
		return nil
	case TypeAuthInvalid:
		return ErrAuthFailed
	default:
		return fmt.Errorf("expected %s, got %s", TypeAuthOK, authResponse.Type)
	}
}

// Disconnect closes the websocket connection. Registered handlers are kept.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	c.cancel()

	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.logger.Info("Disconnected from chat server")
	return nil
}

// Close disconnects and releases the event workers. In-flight handlers
// finish on their own.
func (c *Client) Close() error {
	err := c.Disconnect()
	if c.pool != nil {
		c.pool.Release()
	}
	return err
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// SendMessage sends content to a room and returns the ID of the created
// event.
func (c *Client) SendMessage(ctx context.Context, roomID string, content event.MessageContent) (string, error) {
	if content.MsgType == "" {
		content.MsgType = event.MsgText
	}
	req := &SendMessageRequest{
		ID:      c.nextMsgID(),
		Type:    TypeSendMessage,
		RoomID:  roomID,
		TxnID:   uuid.NewString(),
		Content: content,
	}

	resp, err := c.request(ctx, req.ID, req)
	if err != nil {
		return "", err
	}

	var result SendMessageResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal send result: %w", err)
	}
	return result.EventID, nil
}

// request sends msg and waits for the result with the same ID
func (c *Client) request(ctx context.Context, id int, msg any) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, ErrNotConnected
	}
	conn, clientCtx := c.conn, c.ctx
	c.connMu.RUnlock()

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("server error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-clientCtx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages reads frames from conn until it fails or ctx ends
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect(conn)
			return
		}

		if msg.Type == TypeEvent {
			if msg.Event != nil {
				c.handleEvent(ctx, msg.Event)
			}
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// handleEvent dispatches evt off the receive loop so handlers may send
// requests and wait for their results.
func (c *Client) handleEvent(ctx context.Context, evt *event.Event) {
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Event handler panicked",
					zap.String("event_id", evt.ID),
					zap.Any("panic", r))
			}
		}()
		if err := c.Dispatch(ctx, evt); err != nil {
			c.logger.Error("Event handler failed",
				zap.String("event_id", evt.ID),
				zap.String("type", string(evt.Type)),
				zap.Error(err))
		}
	}

	if c.pool == nil {
		go task()
		return
	}
	if err := c.pool.Submit(task); err != nil {
		c.logger.Debug("Event workers busy, dispatching on a new goroutine",
			zap.String("event_id", evt.ID),
			zap.Error(err))
		go task()
	}
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	conn.Close()
	reconnect := c.reconnect
	ctx := c.ctx
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if !reconnect {
		return
	}
	go c.attemptReconnect(ctx)
}

// attemptReconnect retries Connect until it succeeds or ctx ends
func (c *Client) attemptReconnect(ctx context.Context) {
	b := backoff.WithContext(c.NewBackOff(), ctx)

	err := backoff.RetryNotify(func() error {
		c.logger.Info("Attempting to reconnect...")
		err := c.Connect()
		if errors.Is(err, ErrAlreadyConnected) {
			return nil
		}
		if errors.Is(err, ErrAuthFailed) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		c.logger.Error("Reconnection failed", zap.Error(err), zap.Duration("retry_in", next))
	})
	if err != nil {
		c.logger.Error("Giving up on reconnect", zap.Error(err))
		return
	}

	c.logger.Info("Reconnected successfully")
}
