package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var errNotConnected = errors.New("not connected")

// Change reports one applied frame. Err carries server errors, patch
// failures and sequence gaps; the replica is still usable after them.
type Change struct {
	Key string
	Err error
}

// WSClient keeps a Replica in step with the server, reconnecting and
// resubscribing whenever the connection drops.
type WSClient struct {
	url     string
	token   string
	replica *Replica

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (ping, subscribe)
	conn    *websocket.Conn
	subs    []Subscription
}

// NewWSClient creates a client that connects to the given WebSocket URL.
func NewWSClient(url, token string, replica *Replica) *WSClient {
	return &WSClient{url: url, token: token, replica: replica}
}

func (c *WSClient) Replica() *Replica { return c.replica }

// Subscribe follows an object under key. Subscriptions are replayed after
// every reconnect.
func (c *WSClient) Subscribe(s Subscription) error {
	c.mu.Lock()
	c.subs = append(c.subs, s)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.write(conn, outbound{Type: MsgSubscribe, Payload: s})
}

// Unsubscribe stops following key.
func (c *WSClient) Unsubscribe(key string) error {
	c.mu.Lock()
	for i, s := range c.subs {
		if s.Key == key {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return c.write(conn, outbound{Type: MsgUnsubscribe, Payload: map[string]string{"key": key}})
}

// Run connects and applies frames until ctx is done, reconnecting with
// exponential backoff. Every applied frame is reported on changes.
func (c *WSClient) Run(ctx context.Context, changes chan<- Change) error {
	delay := reconnectBaseDelay
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			glog.Warningf("ws dial error: %v (retry in %v)", err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}
		delay = reconnectBaseDelay

		err = c.serve(ctx, conn, changes)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		glog.Warningf("ws connection lost: %v", err)
	}
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("X-Schedule-Token", c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	return conn, err
}

// serve owns one connection until it fails.
func (c *WSClient) serve(ctx context.Context, conn *websocket.Conn, changes chan<- Change) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	c.replica.Reset()
	c.mu.Lock()
	c.conn = conn
	subs := append([]Subscription(nil), c.subs...)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	for _, s := range subs {
		if err := c.write(conn, outbound{Type: MsgSubscribe, Payload: s}); err != nil {
			return err
		}
	}
	go c.pingLoop(connCtx, conn)

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		key, err := c.replica.Apply(msg)
		if errors.Is(err, ErrSeqGap) {
			// Missed frames leave the replica unreliable; start over.
			return err
		}
		select {
		case changes <- Change{Key: key, Err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or a write fails.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *WSClient) write(conn *websocket.Conn, msg outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}
