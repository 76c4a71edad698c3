package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shelter/internal/logger"
)

const (
	writeWait             = 10 * time.Second
	defaultMaxMessageSize = 4096
	defaultSendBufferSize = 256
)

// Conn is one authenticated gateway connection. A user may hold several.
type Conn struct {
	reg    *Registry
	sock   *websocket.Conn
	userID string

	maxMessageSize int64

	send chan []byte
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewConn wraps an upgraded socket. Non-positive sizes fall back to the
// defaults. The caller must Add it to the registry and then Start the pumps.
func NewConn(reg *Registry, sock *websocket.Conn, userID string, sendBuf, maxMsg int) *Conn {
	if sendBuf <= 0 {
		sendBuf = defaultSendBufferSize
	}
	if maxMsg <= 0 {
		maxMsg = defaultMaxMessageSize
	}
	return &Conn{
		reg:            reg,
		sock:           sock,
		userID:         userID,
		maxMessageSize: int64(maxMsg),
		send:           make(chan []byte, sendBuf),
		done:           make(chan struct{}),
	}
}

func (c *Conn) UserID() string { return c.userID }

// Start launches the read and write pumps.
func (c *Conn) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// Wait blocks until both pumps have exited.
func (c *Conn) Wait() { c.wg.Wait() }

// Close tears the connection down. Safe to call multiple times and from
// any goroutine; unblocks a pending read.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}

// enqueue hands a pre-marshaled frame to the write pump. A client whose
// buffer is full is closed rather than allowed to stall the sender.
func (c *Conn) enqueue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		logger.Errorf("ws: send buffer full, dropping slow client user=%s", c.userID)
		c.Close()
	}
}

func (c *Conn) readPump() {
	defer c.wg.Done()
	defer func() {
		c.reg.Remove(c)
		c.Close()
	}()

	c.sock.SetReadLimit(c.maxMessageSize)
	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws: read error user=%s: %v", c.userID, err)
			}
			return
		}
		var frame inbound
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Errorf("ws: malformed frame user=%s: %v", c.userID, err)
			continue
		}
		if frame.Op == OpHeartbeatAck {
			c.reg.MarkAlive(c)
		}
	}
}

func (c *Conn) writePump() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		}
	}
}
