package transport

import (
	"context"
	"sync"
	"time"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"github.com/git-yup-ai/sim/internal/v1/metrics"
	"github.com/git-yup-ai/sim/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
}

// priorityEvents are delivered through the priority channel so that room
// bursts on the normal channel cannot starve state snapshots or evictions.
var priorityEvents = map[string]struct{}{
	types.EventWorkflowState:     {},
	types.EventWorkflowDeleted:   {},
	types.EventPermissionRevoked: {},
	types.EventServerShutdown:    {},
	types.EventJoinWorkflowError: {},
}

// Client is a single authenticated WebSocket connection.
// It implements types.ClientInterface.
type Client struct {
	conn     wsConnection       // WebSocket connection for real-time communication
	router   types.SocketRouter // Broker that dispatches inbound frames
	socketID types.SocketIDType // Unique per connection, never reused
	user     types.UserSession  // Identity resolved once at handshake

	mu        sync.RWMutex // Protects closed
	closeOnce sync.Once    // Ensures send channels are only closed once
	closed    bool         // Track if client has been disconnected

	send         chan []byte // Buffered channel for normal messages (operations, presence)
	prioritySend chan []byte // Buffered channel for critical messages (state, evictions)
}

// --- types.ClientInterface getters ---

func (c *Client) GetSocketID() types.SocketIDType {
	return c.socketID
}

func (c *Client) GetUser() types.UserSession {
	return c.user
}

// Disconnect closes the outbound channels, which makes the writePump drain
// its buffers, send a close frame and tear down the connection. Safe to call
// more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
		close(c.prioritySend)
	})
}

// readPump continuously processes incoming WebSocket messages from the client.
func (c *Client) readPump() {
	defer func() {
		c.router.HandleDisconnect(context.Background(), c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		c.router.Route(context.Background(), c, data)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing priority message", zap.Error(err))
				return
			}
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing message", zap.Error(err))
				return
			}
		}
	}
}

// Send satisfies types.ClientInterface. The payload is marshalled into an
// event envelope and queued; a saturated or closed connection drops the frame
// instead of blocking the caller.
func (c *Client) Send(event string, payload any) {
	data, err := types.NewEnvelope(event, payload)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal envelope", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(event, data)
}

// SendRaw satisfies types.ClientInterface and queues pre-serialized envelope
// bytes on the normal channel.
func (c *Client) SendRaw(data []byte) {
	c.enqueue("", data)
}

func (c *Client) enqueue(event string, data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed client", zap.String("socketId", string(c.socketID)))
		return
	}
	c.mu.RUnlock()

	// A racing Disconnect can close the channel between the check above and
	// the send below; recover keeps that race from killing the broadcaster.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in enqueue", zap.String("socketId", string(c.socketID)), zap.Any("panic", r))
		}
	}()

	if _, isPriority := priorityEvents[event]; isPriority {
		select {
		case c.prioritySend <- data:
		default:
			logging.Error(context.Background(), "Client priority channel full - dropping critical message", zap.String("socketId", string(c.socketID)), zap.String("event", event))
		}
		return
	}

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full or closed", zap.String("socketId", string(c.socketID)))
	}
}
