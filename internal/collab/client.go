package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 16 << 20 // uploads arrive as data URLs
	sendQueueLen = 256
)

// Client is the one websocket attached to an editing session. Its replies
// and state pushes are queued on send and written by WritePump.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	mu        sync.Mutex
	send      chan []byte
	closed    bool
	SessionID string
	ClientID  string
}

func NewClient(hub *Hub, conn *websocket.Conn, sessionID, clientID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendQueueLen),
		SessionID: sessionID,
		ClientID:  clientID,
	}
}

// ReadPump applies frames to the session engine in arrival order until the
// socket closes, then detaches the client from the hub.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxFrameSize)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				slog.Debug("session stream closed", "error", err, "session", c.SessionID, "client", c.ClientID)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("undecodable frame", "error", err, "session", c.SessionID)
			c.SendError(0, "invalid message")
			continue
		}

		// The socket is bound to one session; ids in the frame are ignored.
		msg.ClientID = c.ClientID
		msg.SessionID = c.SessionID

		c.hub.handleMessage(c, &msg)
	}
}

// WritePump drains the send queue and keeps the socket alive with pings. It
// returns once the hub closes the queue or a write fails.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Debug("write session frame", "error", err, "session", c.SessionID)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// Send queues msg without blocking the engine; a full queue drops it.
func (c *Client) Send(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal session frame", "type", msg.Type, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("session send queue full", "session", c.SessionID, "type", msg.Type)
	}
}

func (c *Client) SendError(seq int64, message string) {
	payload, _ := json.Marshal(ErrorPayload{Seq: seq, Message: message})
	c.Send(&Message{Type: TypeError, SessionID: c.SessionID, Seq: seq, Payload: payload})
}

// close stops the write pump once queued messages are flushed.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
