// Package server implements the Tavolo game server: the connection
// listener, per-session handlers, the dispatcher that owns all outbound
// socket writes, and the game master that owns the table state.
package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tavolo-project/tavolo/internal/protocol"
)

// Conn wraps a client TCP connection. Writes are serialized by an internal
// mutex and bounded by the send timeout; reads are unguarded because each
// connection has exactly one reader, its session handler.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	logger zerolog.Logger

	sendTimeout time.Duration

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
}

// NewConn wraps an existing net.Conn.
func NewConn(conn net.Conn, sendTimeout time.Duration) *Conn {
	now := time.Now()
	return &Conn{
		conn:         conn,
		sendTimeout:  sendTimeout,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "conn").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// Send encodes and writes a catalog message.
func (c *Conn) Send(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	if err := protocol.WriteMessage(c.conn, m); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// SendSignal writes a payload-less lifecycle packet.
func (c *Conn) SendSignal(t protocol.PacketType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	if err := protocol.WriteSignal(c.conn, t); err != nil {
		return fmt.Errorf("failed to write signal: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// ReadType reads the next packet's type identifier. Blocks until bytes
// arrive or the connection is closed; an optional timeout bounds the wait.
func (c *Conn) ReadType(timeout time.Duration) (protocol.PacketType, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	t, err := protocol.ReadType(c.conn)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	return t, nil
}

// ReadMessage reads and decodes the payload of a packet whose type has
// already been consumed.
func (c *Conn) ReadMessage(t protocol.PacketType) (protocol.Message, error) {
	return protocol.ReadMessage(c.conn, t)
}

// DiscardPayload drops the payload of an unwanted packet, keeping the
// stream aligned.
func (c *Conn) DiscardPayload() error {
	return protocol.DiscardPayload(c.conn)
}

// Close closes the connection. Closing also unblocks a pending read.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ConnectedAt returns the time the connection was established.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ClientTable tracks the live socket of every online player. It is guarded
// by its own lock, independent from the session registry, so broadcasting
// never contends with game-state lookups.
type ClientTable struct {
	mu    sync.RWMutex
	conns map[uint32]*Conn
}

// NewClientTable creates an empty ClientTable.
func NewClientTable() *ClientTable {
	return &ClientTable{conns: make(map[uint32]*Conn)}
}

// Put registers the socket for a player, closing any previous one.
func (t *ClientTable) Put(id uint32, conn *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.conns[id]; ok && existing != conn {
		existing.Close()
	}
	t.conns[id] = conn
	log.Debug().Uint32("player_id", id).Msg("client socket registered")
}

// Remove drops the socket for a player without closing it.
func (t *ClientTable) Remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

// Get returns the socket for a player.
func (t *ClientTable) Get(id uint32) (*Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.conns[id]
	return conn, ok
}

// Snapshot returns a copy of the current socket map, so callers can send
// without holding the lock.
func (t *ClientTable) Snapshot() map[uint32]*Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[uint32]*Conn, len(t.conns))
	for id, conn := range t.conns {
		out[id] = conn
	}
	return out
}

// Count returns the number of connected clients.
func (t *ClientTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// CloseAll closes every socket and empties the table.
func (t *ClientTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
	log.Info().Msg("all client sockets closed")
}
