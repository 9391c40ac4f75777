package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"go-chat-hub/internal/auth"
	"go-chat-hub/pkg/chat"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CloseSessionSuperseded is sent to a connection replaced by a newer one
// for the same subject.
const CloseSessionSuperseded = 4000

// Teardown reasons, recorded in logs and the audit journal.
const (
	ReasonClientClosed     = "client_closed"
	ReasonReadError        = "read_error"
	ReasonWriteError       = "write_error"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonPingFailed       = "ping_failed"
	ReasonSuperseded       = "superseded"
	ReasonShutdown         = "shutdown"
)

// Conn is the part of *websocket.Conn the hub uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Client represents a WebSocket client connection
type Client struct {
	id         string
	hub        *Hub
	conn       Conn
	claims     auth.Claims
	remoteAddr string

	// Buffered channel of outbound frames. Never closed; done signals shutdown.
	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
	tornDown    atomic.Bool

	// Cleared by the heartbeat monitor, set by pong.
	alive atomic.Bool

	limiter *rate.Limiter

	connectedAt time.Time
	lastSeen    atomic.Int64
}

func newClient(hub *Hub, conn Conn, claims auth.Claims, remoteAddr string) *Client {
	c := &Client{
		id:          uuid.NewString(),
		hub:         hub,
		conn:        conn,
		claims:      claims,
		remoteAddr:  remoteAddr,
		send:        make(chan []byte, hub.opts.SendBuffer),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	if hub.opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(hub.opts.MessagesPerSecond), hub.opts.MessageBurst)
	}
	c.alive.Store(true)
	c.touch()
	return c
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// SubjectID returns the authenticated subject
func (c *Client) SubjectID() string {
	return c.claims.SubjectID
}

func (c *Client) Claims() auth.Claims {
	return c.claims
}

func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// Enqueue queues a frame without blocking. It reports false when the client
// is closed or its queue is full.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Send encodes and enqueues an envelope.
func (c *Client) Send(env chat.Envelope) bool {
	frame, err := env.Encode()
	if err != nil {
		c.hub.log.Error("failed to encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return false
	}
	return c.Enqueue(frame)
}

func (c *Client) sendError(p chat.ErrorPayload, requestID string) bool {
	return c.Send(chat.NewErrorEnvelope(p).WithRequestID(requestID))
}

// close marks the client closed. The first code and reason win; the write
// pump flushes what is queued and then sends the close frame.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.opts.WriteWait))
}

func (c *Client) write(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// readPump dispatches inbound frames in arrival order until the connection
// fails, then tears the client down.
func (c *Client) readPump() {
	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		c.touch()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.teardown(c, c.exitReason(err))
			return
		}
		c.touch()

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError(chat.ErrorPayload{
				Code:    chat.ErrorCodeRateLimited,
				Message: "too many messages",
				Type:    gjson.GetBytes(data, "type").String(),
			}, gjson.GetBytes(data, "requestId").String())
			continue
		}
		c.hub.router.HandleMessage(c, data)
	}
}

func (c *Client) exitReason(err error) string {
	if c.closed() {
		return c.closeReason
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ReasonClientClosed
	}
	return ReasonReadError
}

// writePump drains the send queue in FIFO order. It owns every data write
// on the connection and closes it on exit.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.hub.teardown(c, ReasonWriteError)
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.opts.WriteWait))
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
