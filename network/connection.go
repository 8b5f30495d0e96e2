// network/connection.go
package network

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

const writeWait = 10 * time.Second

// Connection is a message-oriented transport. Send never blocks: payloads
// are queued and written by a dedicated goroutine.
type Connection interface {
	Send(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
}

type WSConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	heartbeat time.Duration
	mutex     sync.Mutex
}

// NewWSConnection wraps conn and starts its write pump. A zero heartbeat
// disables pings and read deadlines.
func NewWSConnection(conn *websocket.Conn, sendBuffer int, heartbeat time.Duration) *WSConnection {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	c := &WSConnection{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		heartbeat: heartbeat,
	}
	if heartbeat > 0 {
		c.SetHeartbeat(heartbeat)
		conn.SetPongHandler(func(string) error {
			c.SetHeartbeat(c.getHeartbeat())
			return nil
		})
	}
	go c.writePump()
	return c
}

func (c *WSConnection) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// ReadMessage returns the next text frame. Binary frames are skipped.
func (c *WSConnection) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

// SetHeartbeat pushes the read deadline out to twice interval.
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.mutex.Lock()
	c.heartbeat = interval
	c.mutex.Unlock()
	if interval > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	}
}

func (c *WSConnection) getHeartbeat() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.heartbeat
}

// Close stops the write pump, which sends a close frame and closes the socket.
func (c *WSConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *WSConnection) writePump() {
	var tick <-chan time.Time
	if hb := c.getHeartbeat(); hb > 0 {
		ticker := time.NewTicker(hb)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-tick:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
