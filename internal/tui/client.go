package tui

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-group/core/payloads"
	"github.com/koscakluka/ema-group/core/transport/ws"
)

// Client is a websocket connection to a group server.
type Client struct {
	conn     *websocket.Conn
	payloads chan payloads.Payload
	errs     chan error

	writeMu sync.Mutex
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		payloads: make(chan payloads.Payload, 64),
		errs:     make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.payloads)
	for {
		var payload payloads.Payload
		if err := c.conn.ReadJSON(&payload); err != nil {
			c.errs <- err
			return
		}
		c.payloads <- payload
	}
}

// Payloads is closed when the connection ends; Err then reports why.
func (c *Client) Payloads() <-chan payloads.Payload { return c.payloads }

func (c *Client) Err() error {
	select {
	case err := <-c.errs:
		return err
	default:
		return nil
	}
}

func (c *Client) Send(msg ws.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
