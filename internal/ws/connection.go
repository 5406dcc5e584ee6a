package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection liveness states. A connection starts in onboarding, where it
// can be written to directly but is not yet a broadcast target, moves to
// open once its replay payloads are delivered, to closing when it is being
// torn down, and ends closed once the underlying socket is gone.
const (
	stateOnboarding int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

// ErrConnClosed is returned by write operations on a connection that is no
// longer open.
var ErrConnClosed = errors.New("ws: connection is closed")

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	ID        string    // connection ID (UUID)
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups
	CreatedAt time.Time // when the connection was established

	// WriteTimeout bounds every outbound frame write so that one stalled
	// peer cannot block a broadcast to the others. Zero disables the bound.
	WriteTimeout time.Duration

	writeMu    sync.Mutex // serializes writes to this connection
	state      int32      // atomic: stateOpen, stateClosing, stateClosed
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
	lastActive int64      // atomic: unix nanos of the last inbound frame
}

// IsOpen reports whether the connection is a valid broadcast target.
// Connections still onboarding are excluded, so a newcomer never receives a
// live event ahead of its replay payloads.
func (c *Connection) IsOpen() bool {
	return atomic.LoadInt32(&c.state) == stateOpen
}

// activate transitions the connection from onboarding to open, making it a
// broadcast target.
func (c *Connection) activate() {
	atomic.CompareAndSwapInt32(&c.state, stateOnboarding, stateOpen)
}

// canWrite reports whether the connection accepts outbound frames. Direct
// sends are allowed during onboarding; only closing and closed connections
// refuse writes.
func (c *Connection) canWrite() bool {
	return atomic.LoadInt32(&c.state) <= stateOpen
}

// beginClose transitions the connection from open to closing. It returns
// false if the connection already left the open state, so only one caller
// proceeds with teardown.
func (c *Connection) beginClose() bool {
	return atomic.CompareAndSwapInt32(&c.state, stateOpen, stateClosing)
}

// touch records inbound activity for heartbeat staleness checks.
func (c *Connection) touch() {
	atomic.StoreInt64(&c.lastActive, time.Now().UnixNano())
}

// LastActive returns the time of the last inbound frame from this peer.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActive))
}

// WriteMessage sends a WebSocket text frame to this connection. Writes to a
// connection that is closing or closed fail immediately with ErrConnClosed.
// The write mutex ensures that concurrent goroutines do not interleave frame
// bytes; the write deadline bounds the time a slow peer can hold it.
func (c *Connection) WriteMessage(data []byte) error {
	if !c.canWrite() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
	err := wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
	if c.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Time{})
	}
	return err
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	if !c.canWrite() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close marks the connection closed and closes the underlying socket. Any
// broadcast still holding a snapshot that includes this connection will see
// it as closed and skip it.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.state, stateClosed)
	return c.Conn.Close()
}

// ConnectionManager is the registry of live connections. It maps connection
// IDs and sockets to their Connection objects with O(1) lookups by either
// key, and supports snapshot iteration so that connections may join and
// leave while a broadcast is in flight.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection   // connection ID -> Connection
	byConn map[net.Conn]*Connection // socket -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a new connection in both the ID and socket lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	conn.touch()
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID, closes the underlying socket, and
// deletes it from both lookup maps. It is idempotent: calling it again for a
// connection that already left returns false and does nothing.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.beginClose()
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection registered for the given socket, or nil
// if not found. The registry is keyed on the net.Conn itself rather than the
// file descriptor so the lookup also works on the non-Linux fallback path,
// where descriptors are unavailable.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of registered connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// Broadcast delivers payload to every open connection for which pred holds.
// A nil pred matches everything. Delivery runs over a snapshot, so
// connections joining or leaving mid-broadcast are safe: a connection that
// closed after the snapshot fails its write and is handed to onFail, and
// delivery continues for the remaining targets.
func (cm *ConnectionManager) Broadcast(payload []byte, pred func(connID string) bool, onFail func(*Connection)) {
	for _, conn := range cm.All() {
		if !conn.IsOpen() {
			continue
		}
		if pred != nil && !pred(conn.ID) {
			continue
		}
		if err := conn.WriteMessage(payload); err != nil {
			if onFail != nil {
				onFail(conn)
			}
		}
	}
}
