package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// connection serialises every write to one websocket.
// Live events go through a bounded queue; backlog and replies are written inline.
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

func newConnection(ws *websocket.Conn, buffer int) *connection {
	return &connection{
		ws:    ws,
		queue: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// writeJSON encodes v and writes it before returning.
func (c *connection) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, payload)
}

// enqueue hands payload to the write loop without blocking.
// A full queue means the client cannot keep up, so the connection is dropped.
func (c *connection) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.queue <- payload:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		// the socket may be stuck in a write, do not make the broadcaster wait for it
		go c.close(websocket.CloseGoingAway, "send buffer full")
		return errQueueFull
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (c *connection) writeLoop(pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.queue:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-tick:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (c *connection) write(messageType int, payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

// close sends a close frame when code allows one and tears the socket down.
// Closing the socket also unblocks the read loop.
func (c *connection) close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		if code != websocket.CloseAbnormalClosure {
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		}
		_ = c.ws.Close()
	})
}

func (c *connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
