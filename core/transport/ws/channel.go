package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-group/core/payloads"
)

var (
	ErrQueueFull     = errors.New("send queue full")
	ErrChannelClosed = errors.New("channel closed")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Channel is one websocket client. Sends are queued and written by a single
// writer goroutine so a slow client never blocks a broadcast.
type Channel struct {
	id   string
	conn *websocket.Conn

	queue chan []byte
	done  chan struct{}

	alive     atomic.Bool
	closeOnce sync.Once
}

func newChannel(id string, conn *websocket.Conn, queueSize int) *Channel {
	c := &Channel{
		id:    id,
		conn:  conn,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) Alive() bool { return c.alive.Load() }

// Send queues payload. It fails instead of waiting when the queue is full.
func (c *Channel) Send(payload payloads.Payload) error {
	if !c.alive.Load() {
		return ErrChannelClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	select {
	case <-c.done:
		return ErrChannelClosed
	case c.queue <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// MarkDead stops the channel. The writer flushes what is already queued and
// closes the connection, which in turn ends the read loop.
func (c *Channel) MarkDead() {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.done)
	})
}

func (c *Channel) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	defer c.MarkDead()

	for {
		select {
		case <-c.done:
			c.drain()
			return

		case data := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("failed to write to client", "client_id", c.id, "error", err)
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

// drain flushes what was queued before the channel was closed, best effort.
func (c *Channel) drain() {
	for {
		select {
		case data := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
