//go:build !linux

package ws

import (
	"net"
	"sync"
	"time"
)

// peekBackoff is how long the readiness peek sleeps while a previously
// buffered byte is still waiting for the frame reader.
const peekBackoff = 5 * time.Millisecond

// Epoll provides a goroutine-per-connection fallback for non-Linux platforms.
// On Linux, this is replaced by the real epoll implementation. This fallback
// allows developers on macOS/Windows to run the server without the epoll
// optimization.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn // channel that receives connections with pending data
	done    chan struct{}
}

// NewEpoll creates a new fallback epoll instance that uses goroutines to
// monitor each connection for incoming data.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// wrapForPoll prepares a freshly upgraded connection for registration. The
// fallback detects readability by reading one byte, so the connection is
// wrapped to replay that byte and keep the WebSocket stream intact for the
// frame reader.
func wrapForPoll(conn net.Conn) net.Conn {
	return &replayConn{Conn: conn}
}

// replayConn buffers the byte consumed by the readiness peek and serves it
// back on the next Read. All reads of the underlying connection are
// serialized behind one mutex, so peek reads and frame reads never
// interleave.
type replayConn struct {
	net.Conn
	mu  sync.Mutex
	buf []byte
}

// Read drains any buffered peeked byte before touching the underlying
// connection.
func (c *replayConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// peek blocks until one byte is readable and buffers it for replay. It
// reports false without reading when a previously buffered byte has not yet
// been consumed by the frame reader.
func (c *replayConn) peek() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) > 0 {
		return false, nil
	}

	var b [1]byte
	n, err := c.Conn.Read(b[:])
	if n == 1 {
		c.buf = append(c.buf, b[0])
	}
	if err != nil {
		return n == 1, err
	}
	return true, nil
}

// Add registers a connection by spawning a goroutine that peeks at it for
// readability. When data arrives, the connection is sent to the ready
// channel for processing by Wait.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(conn)
	return nil
}

// monitor peeks at the connection for readability and signals the ready
// channel. The peeked byte is replayed by replayConn, so the frame reader
// sees the stream intact. The goroutine exits when the connection closes or
// the epoll shuts down.
func (e *Epoll) monitor(conn net.Conn) {
	rc, ok := conn.(*replayConn)
	if !ok {
		return
	}

	for {
		select {
		case <-e.done:
			return
		default:
		}

		fresh, err := rc.peek()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// A frame-read deadline fired while probing; not a closure.
				continue
			}
			// Closed or errored; signal readiness so the server's read path
			// can observe the closure and tear the connection down.
			select {
			case e.readyCh <- conn:
			case <-e.done:
			}
			return
		}
		if !fresh {
			// The previous peeked byte is still unread; readiness for it was
			// already signaled.
			time.Sleep(peekBackoff)
			continue
		}

		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove unregisters a connection from the fallback epoll.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready for reading. It
// collects all currently ready connections from the channel and returns them.
func (e *Epoll) Wait() ([]net.Conn, error) {
	// Block until at least one connection is ready.
	first, ok := <-e.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}

	// Drain any additional ready connections without blocking.
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD returns -1 on non-Linux platforms; the goroutine-based fallback
// has no use for file descriptors and connections are looked up by identity.
func socketFD(conn net.Conn) int {
	return -1
}
