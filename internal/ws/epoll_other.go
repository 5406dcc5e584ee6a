//go:build !linux

package ws

import (
	"errors"
	"net"
	"sync"
)

// Epoll provides a goroutine-per-connection fallback for non-Linux
// platforms. On Linux this type is replaced by the real epoll
// implementation; the fallback exists so the relay runs on macOS and
// Windows during development.
//
// Each connection gets a monitor goroutine that peeks one byte to detect
// pending data. The byte lands in the connection's peek buffer, so the
// frame reader still sees an intact stream. After signalling readiness the
// monitor blocks until Rearm is called, which keeps it from reading the
// socket while a worker is mid-frame.
type Epoll struct {
	mu      sync.Mutex
	resume  map[net.Conn]chan struct{}
	readyCh chan net.Conn // receives connections with pending data
	done    chan struct{}
}

// NewEpoll creates a fallback instance that uses one goroutine per
// connection to watch for incoming data.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		resume:  make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection and spawns its monitor goroutine. The
// connection must be the peekConn produced by wrapConn.
func (e *Epoll) Add(conn net.Conn) error {
	pc, ok := conn.(*peekConn)
	if !ok {
		return errNotPeekable
	}

	resume := make(chan struct{}, 1)
	e.mu.Lock()
	e.resume[conn] = resume
	e.mu.Unlock()

	go e.monitor(pc, resume)
	return nil
}

// monitor peeks one byte into the connection's buffer, signals readiness,
// and waits for Rearm before peeking again. On a read error it signals one
// final time so the server's read path observes the closure.
func (e *Epoll) monitor(pc *peekConn, resume chan struct{}) {
	for {
		if err := pc.peek(); err != nil {
			select {
			case e.readyCh <- pc:
			case <-e.done:
			}
			return
		}

		select {
		case e.readyCh <- pc:
		case <-e.done:
			return
		}

		select {
		case <-resume:
		case <-e.done:
			return
		}
	}
}

// Remove unregisters a connection. Closing its resume channel releases a
// monitor blocked between frames; the socket close releases one blocked in
// peek.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	if resume, ok := e.resume[conn]; ok {
		delete(e.resume, conn)
		close(resume)
	}
	e.mu.Unlock()
	return nil
}

// Rearm tells the connection's monitor that frame processing finished and
// the socket may be peeked again. Rearming a removed connection is a no-op.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.Lock()
	if resume, ok := e.resume[conn]; ok {
		select {
		case resume <- struct{}{}:
		default:
		}
	}
	e.mu.Unlock()
}

// Wait blocks until at least one connection is ready for reading, then
// drains any further ready connections without blocking and returns the
// batch.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback instance.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	for conn, resume := range e.resume {
		delete(e.resume, conn)
		close(resume)
	}
	e.mu.Unlock()
	return nil
}

var errNotPeekable = errors.New("ws: connection was not wrapped for peeking")

// peekConn buffers the single byte the monitor consumes while watching for
// pending data. Read drains the buffer before touching the socket, so the
// frame reader never misses the leading byte of a frame.
type peekConn struct {
	net.Conn
	mu  sync.Mutex
	buf byte
	ok  bool
}

// peek reads one byte off the socket into the buffer. Only the monitor
// goroutine calls it, and only while no worker is reading the connection.
func (p *peekConn) peek() error {
	var b [1]byte
	n, err := p.Conn.Read(b[:])
	if n == 1 {
		p.mu.Lock()
		p.buf = b[0]
		p.ok = true
		p.mu.Unlock()
	}
	return err
}

func (p *peekConn) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.ok && len(b) > 0 {
		b[0] = p.buf
		p.ok = false
		p.mu.Unlock()
		return 1, nil
	}
	p.mu.Unlock()
	return p.Conn.Read(b)
}

// wrapConn prepares a freshly upgraded socket for the fallback event loop.
func wrapConn(conn net.Conn) net.Conn {
	return &peekConn{Conn: conn}
}

// isEINTR always reports false on the fallback path; Wait blocks on a
// channel rather than a syscall and cannot be interrupted by a signal.
func isEINTR(err error) bool {
	return false
}

// socketFD is a no-op on non-Linux platforms; the goroutine-based fallback
// does not need file descriptors.
func socketFD(conn net.Conn) int {
	return -1
}
