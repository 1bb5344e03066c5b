package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single authenticated WebSocket client connection
// with its resolved user identity and a write mutex for serializing outbound
// frames. One user may own many connections (multi-device).
type Connection struct {
	ID         string       // connection ID (UUID), unique per live socket
	UserID     string       // owning user, resolved at admission
	Username   string       // owning user's username, for typing events
	Conn       net.Conn     // underlying TCP connection
	Fd         int          // file descriptor for epoll lookups
	CreatedAt  time.Time    // when the connection was established
	lastPing   atomic.Int64 // unix nanos of the most recent client activity
	writeMu    sync.Mutex   // serializes writes to this connection
	processing int32        // atomic flag: 0 = idle, 1 = being read by handleConn
}

// Touch records client activity. Read workers write it and the heartbeat
// goroutine reads it, so the timestamp is kept atomic.
func (c *Connection) Touch() {
	c.lastPing.Store(time.Now().UnixNano())
}

// LastActive returns the time of the most recent client activity.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// file descriptors to their respective Connection objects. It supports O(1)
// lookups by both connection ID and fd. User-level bookkeeping lives in the
// registry package; this manager only owns the socket objects.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection // connection_id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection. The fd index is only populated for
// connections that actually carry a descriptor; pipes and the non-Linux
// fallback report -1 and are found by identity instead.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	if conn.Fd >= 0 {
		cm.byFd[conn.Fd] = conn
	}
	cm.mu.Unlock()
}

// Remove removes a connection by connection ID, closes the underlying
// network connection, and removes it from both lookup maps. Returns true if
// the connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if conn.Fd >= 0 {
			delete(cm.byFd, conn.Fd)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given connection ID, or nil if not
// found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn: by file
// descriptor where one is available, by identity otherwise. Returns nil if
// not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	if fd := socketFD(c); fd >= 0 {
		return cm.GetByFd(fd)
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, conn := range cm.byID {
		if conn.Conn == c {
			return conn
		}
	}
	return nil
}

// Count returns the current number of active connections.
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
