package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/pkg/auth"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

// Close reasons sent with code 1008 when the handshake fails
const (
	CloseReasonAuthTimeout  = "authentication timeout"
	CloseReasonAuthRequired = "authentication required"
	CloseReasonAuthFailed   = "authentication failed"
	CloseReasonUnavailable  = "service unavailable"
)

// ErrHandshakeRejected is returned when a connection fails authentication
var ErrHandshakeRejected = errors.New("websocket handshake rejected")

// Authenticator verifies the bearer token presented when a socket opens
type Authenticator interface {
	VerifyAccess(ctx context.Context, token string) (*auth.Claims, error)
}

// MessageHandler is a callback for processing incoming WebSocket messages
type MessageHandler func(client *Client, msg *model.WSMessage)

// Client represents a single WebSocket connection
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	UserID   uuid.UUID
	DeviceID string
	Username string

	mu       sync.Mutex
	state    State
	closed   bool
	lastSeen atomic.Int64
}

// NewClient wraps a freshly upgraded connection. It starts in Connecting.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(hub.cfg.MessageRate, hub.cfg.MessageBurst),
		state:   StateConnecting,
	}
	c.touch()
	return c
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves the connection to a new state if the move is legal
func (c *Client) Transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
	}
	c.state = to
	return nil
}

// shutdown walks the state machine to Disconnected from wherever it is
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	if c.state != StateClosing {
		c.state = StateClosing
	}
	c.state = StateDisconnected
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen is the time of the last heartbeat
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Identify binds the connection to an authenticated user and device
func (c *Client) Identify(userID uuid.UUID, deviceID, username string) {
	c.UserID = userID
	c.DeviceID = deviceID
	c.Username = username
}

// Handshake authenticates the connection. The token comes from the query
// string, or else from a first {"type":"auth","token":...} frame that must
// arrive within timeout. Failures close the socket with a policy violation
// and a reason telling them apart.
func (c *Client) Handshake(ctx context.Context, queryToken string, authn Authenticator, timeout time.Duration) error {
	if err := c.Transition(StateAuthenticating); err != nil {
		return err
	}

	token := queryToken
	if token == "" {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return c.reject(websocket.ClosePolicyViolation, CloseReasonAuthTimeout)
			}
			c.Transition(StateError)
			c.conn.Close()
			c.shutdown()
			return fmt.Errorf("%w: %w", model.ErrTransport, err)
		}

		var msg model.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != model.WSTypeAuth || msg.Token == "" {
			return c.reject(websocket.ClosePolicyViolation, CloseReasonAuthRequired)
		}
		token = msg.Token
	}

	claims, err := authn.VerifyAccess(ctx, token)
	if errors.Is(err, model.ErrStoreUnavailable) {
		return c.reject(websocket.CloseTryAgainLater, CloseReasonUnavailable)
	}
	if err != nil {
		return c.reject(websocket.ClosePolicyViolation, CloseReasonAuthFailed)
	}

	c.Identify(claims.UserID, claims.DeviceID, claims.Username)
	c.conn.SetReadDeadline(time.Time{})
	return nil
}

func (c *Client) reject(code int, reason string) error {
	c.Transition(StateError)
	c.Transition(StateClosing)

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		log.Printf("⚠️  Failed to send close frame: %v", err)
	}
	c.conn.Close()
	c.shutdown()
	return fmt.Errorf("%w: %s", ErrHandshakeRejected, reason)
}

// Abort closes a connection that passed the handshake but could not be admitted
func (c *Client) Abort(code int, reason string) {
	_ = c.reject(code, reason)
}

// Send queues a message for the write pump
func (c *Client) Send(msg *model.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal ws message: %w", err)
	}
	if !c.enqueue(data) {
		return model.ErrTransport
	}
	return nil
}

// SendError queues an error frame with a human readable reason
func (c *Client) SendError(reason string) {
	if err := c.Send(model.NewWSMessage(model.WSTypeError, model.WSErrorData{Reason: reason})); err != nil {
		log.Printf("⚠️  Could not deliver error to %s/%s: %v", c.UserID, c.DeviceID, err)
	}
}

// enqueue never blocks: a full buffer counts as a failed send
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend stops the write pump. Safe to call more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps messages from the WebSocket connection to the handler
// Runs in a per-client goroutine
func (c *Client) ReadPump(handler MessageHandler) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.shutdown()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.Touch(c)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg model.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.SendError("malformed message")
			continue
		}
		if !c.limiter.Allow() {
			c.SendError(model.ErrRateLimited.Error())
			continue
		}

		if handler != nil {
			handler(c, &msg)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// Runs in a per-client goroutine
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
