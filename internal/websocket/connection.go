// Package websocket owns the transport for viewer connections: the upgrade
// endpoint, the per-connection writer goroutine, and heartbeat monitoring.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps a gorilla connection behind the session.Conn interface.
// All writes go through a single goroutine; gorilla forbids concurrent
// writers on one connection.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection starts the writer goroutine for conn. writeTimeout bounds how
// long one write may block; a slow viewer cannot stall the fan-out path longer
// than this.
func NewConnection(conn *websocket.Conn, writeTimeout time.Duration, buffer int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

// Context is cancelled when the connection closes. The read loop hands it to
// the router so in-flight storage queries abort on disconnect.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for the writer goroutine. It fails fast
// once the connection is closed and bounds how long a full buffer may block.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer goroutine and closes the socket. Safe to call any
// number of times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
