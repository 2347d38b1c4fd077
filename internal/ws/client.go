package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"househunter/internal/domain"
	"househunter/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 32
)

// client is one open socket subscribed to one topic. Events reach it from
// publisher goroutines through Deliver; a dedicated writer drains them.
type client struct {
	conn *websocket.Conn
	user *domain.User
	log  *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ realtime.Subscriber = (*client)(nil)

func newClient(conn *websocket.Conn, user *domain.User, log *zap.Logger) *client {
	return &client{
		conn: conn,
		user: user,
		log:  log,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Deliver filters by what this user may see, then queues the event.
func (c *client) Deliver(t realtime.Topic, ev realtime.Event) {
	if !realtime.Visible(t, ev, c.user.ID) {
		return
	}
	data, err := realtime.Encode(ev)
	if err != nil {
		c.log.Error("encode event", zap.String("kind", string(ev.Kind())), zap.Error(err))
		return
	}
	c.enqueue(data)
}

// enqueue never blocks. A client whose buffer is full is disconnected.
func (c *client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warn("websocket client too slow, dropping connection")
		c.close()
	}
}

func (c *client) sendError(msg string) {
	data, _ := json.Marshal(map[string]any{
		"type":    "error",
		"message": msg,
	})
	c.enqueue(data)
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump blocks until the peer goes away. Frames are handed to inbound;
// when inbound is nil they are read and discarded.
func (c *client) readPump(ctx context.Context, inbound func(context.Context, []byte) error) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if inbound == nil {
			continue
		}
		if err := inbound(ctx, data); err != nil {
			c.sendError(publicMessage(err))
		}
	}
}
