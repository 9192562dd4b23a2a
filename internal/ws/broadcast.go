package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/schedule-sync/backend/internal/synchronize"
	"github.com/schedule-sync/backend/internal/tracking"
)

var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

type client struct {
	id   synchronize.ConnID
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	done chan struct{}
	once sync.Once

	// mu orders sequence numbers with the queue.
	mu  sync.Mutex
	seq uint64

	subMu sync.Mutex
	subs  map[string]subscription
}

type subscription struct {
	channel string
	id      string
}

func newClient(b *Broadcaster, conn *websocket.Conn) *client {
	return &client{
		id:   synchronize.ConnID(uuid.NewString()),
		conn: conn,
		b:    b,
		send: make(chan []byte, b.buffer),
		done: make(chan struct{}),
		subs: make(map[string]subscription),
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.b.pingInterval)
	defer func() {
		ticker.Stop()
		c.b.RemoveClient(c)
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				glog.V(1).Infof("[ws] write to %s failed: %v", c.id, err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue frames payload and queues it without blocking. A client whose
// queue is full is disconnected.
func (c *client) enqueue(typ MessageType, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	c.seq++
	data, err := json.Marshal(WSMessage{Type: typ, Seq: c.seq, Payload: payload})
	if err != nil {
		c.seq--
		glog.Errorf("[ws] encode %s for %s: %v", typ, c.id, err)
		return
	}
	select {
	case c.send <- data:
	default:
		glog.Warningf("[ws] client %s too slow, disconnecting", c.id)
		c.close()
	}
}

// close stops the write pump and closes the socket, which ends the read
// loop and with it every subscription. It is safe to call more than once.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) remember(key string, s subscription) {
	c.subMu.Lock()
	c.subs[key] = s
	c.subMu.Unlock()
}

func (c *client) forget(key string) (subscription, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	s, ok := c.subs[key]
	delete(c.subs, key)
	return s, ok
}

func (c *client) subscriptions() map[string]subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make(map[string]subscription, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

// Broadcaster owns the websocket clients and delivers the synchronization
// messages addressed to them. It implements synchronize.Transport.
type Broadcaster struct {
	mu           sync.RWMutex
	clients      map[synchronize.ConnID]*client
	buffer       int
	maxConns     int
	pingInterval time.Duration
}

var _ synchronize.Transport = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster with per-client queues of buffer
// messages. maxConns of zero means unlimited.
func NewBroadcaster(buffer, maxConns int, pingInterval time.Duration) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Broadcaster{
		clients:      make(map[synchronize.ConnID]*client),
		buffer:       buffer,
		maxConns:     maxConns,
		pingInterval: pingInterval,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := newClient(b, conn)
	b.clients[c.id] = c
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if b.clients[c.id] == c {
		delete(b.clients, c.id)
	}
	b.mu.Unlock()
	c.close()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for id, c := range b.clients {
		clients = append(clients, c)
		delete(b.clients, id)
	}
	b.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (b *Broadcaster) deliver(conn synchronize.ConnID, typ MessageType, payload any) {
	b.mu.RLock()
	c, ok := b.clients[conn]
	b.mu.RUnlock()
	if !ok {
		glog.V(2).Infof("[ws] drop %s for departed %s", typ, conn)
		return
	}
	c.enqueue(typ, payload)
}

func (b *Broadcaster) InitializeObject(conn synchronize.ConnID, key string, snapshot json.RawMessage) {
	b.deliver(conn, MsgInitializeObject, InitializeObjectPayload{Key: key, Snapshot: snapshot})
}

func (b *Broadcaster) RemoveObject(conn synchronize.ConnID, key string) {
	b.deliver(conn, MsgRemoveObject, RemoveObjectPayload{Key: key})
}

func (b *Broadcaster) PropertyChanged(conn synchronize.ConnID, key string, ev tracking.PropertyChangeEvent) {
	b.deliver(conn, MsgPropertyChanged, PropertyChangedPayload{Key: key, Path: ev.Path, Value: ev.NewValue})
}

func (b *Broadcaster) CollectionChanged(conn synchronize.ConnID, key string, ev tracking.CollectionChangeEvent) {
	items := ev.Items
	if items == nil {
		items = []any{}
	}
	b.deliver(conn, MsgCollectionChanged, CollectionChangedPayload{
		Key:           key,
		Path:          ev.Path,
		Action:        ev.Action,
		Items:         items,
		StartingIndex: ev.StartingIndex,
	})
}

func (b *Broadcaster) sendError(c *client, key, message string) {
	c.enqueue(MsgError, ErrorPayload{Message: message, Key: key})
}
