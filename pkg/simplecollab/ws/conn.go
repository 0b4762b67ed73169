package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tendant/simple-collab/pkg/simplecollab"
)

// Conn is one live WebSocket connection. Outbound messages go through a
// bounded channel drained by a single write loop, so a slow client never
// blocks the hub; on overflow the oldest queued message is dropped.
type Conn struct {
	sock     *websocket.Conn
	send     chan interface{}
	sendWait time.Duration
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(sock *websocket.Conn, queueSize int, sendWait time.Duration, logger *slog.Logger) *Conn {
	return &Conn{
		sock:     sock,
		send:     make(chan interface{}, queueSize),
		sendWait: sendWait,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Send enqueues msg without blocking. When the buffer is full it drops the
// oldest queued message to make room.
func (c *Conn) Send(msg interface{}) error {
	select {
	case <-c.done:
		return simplecollab.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
	}

	// Buffer full: drop the oldest message and retry once.
	select {
	case <-c.send:
		c.logger.Debug("outbound buffer full, dropped oldest message")
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return simplecollab.ErrSlowConnection
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.sendWait))
			if err := c.sock.WriteJSON(msg); err != nil {
				c.logger.Debug("write failed, closing connection", "err", err)
				// Unblocks the read loop so the hub removal runs.
				c.close()
				return
			}
		}
	}
}

// readLoop forwards raw inbound frames to the hub until the socket closes.
func (c *Conn) readLoop(hub *simplecollab.Hub, connID string) {
	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "conn_id", connID, "err", err)
			}
			return
		}
		hub.HandleCommand(connID, raw)
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}
