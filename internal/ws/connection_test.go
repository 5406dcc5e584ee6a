package ws

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// newPipeConn builds a Connection over an in-process pipe. The returned
// client side reads the frames the Connection writes.
func newPipeConn(t *testing.T) (*Connection, net.Conn) {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	conn := &Connection{
		ID:           uuid.New().String(),
		Conn:         serverSide,
		CreatedAt:    time.Now(),
		WriteTimeout: time.Second,
	}
	conn.activate()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})
	return conn, clientSide
}

func TestConnectionManagerAddRemove(t *testing.T) {
	cm := NewConnectionManager()
	a, _ := newPipeConn(t)
	b, _ := newPipeConn(t)

	cm.Add(a)
	cm.Add(b)

	if n := cm.Count(); n != 2 {
		t.Fatalf("expected 2 connections, got %d", n)
	}
	if got := cm.Get(a.ID); got != a {
		t.Errorf("Get(%s) returned %v", a.ID, got)
	}
	if got := cm.GetByConn(a.Conn); got != a {
		t.Errorf("GetByConn returned %v", got)
	}

	if !cm.Remove(a.ID) {
		t.Error("first Remove must return true")
	}
	if cm.Remove(a.ID) {
		t.Error("second Remove must return false")
	}
	if n := cm.Count(); n != 1 {
		t.Fatalf("expected 1 connection after remove, got %d", n)
	}
	if cm.Get(a.ID) != nil {
		t.Error("removed connection still resolvable by ID")
	}
	if cm.GetByConn(a.Conn) != nil {
		t.Error("removed connection still resolvable by socket")
	}
	if a.IsOpen() {
		t.Error("removed connection must not remain a write target")
	}
}

func TestWriteMessageAfterCloseFails(t *testing.T) {
	conn, _ := newPipeConn(t)
	conn.Close()

	if err := conn.WriteMessage([]byte("x")); err != ErrConnClosed {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

// readOne consumes a single text frame from the client side of a pipe.
func readOne(t *testing.T, client net.Conn, wg *sync.WaitGroup, out *[]byte, mu *sync.Mutex) {
	t.Helper()
	wg.Add(1)
	go func() {
		defer wg.Done()
		data, _, err := wsutil.ReadServerData(client)
		if err != nil {
			return
		}
		mu.Lock()
		*out = append([]byte(nil), data...)
		mu.Unlock()
	}()
}

func TestBroadcastDeliversToAllOpenConnections(t *testing.T) {
	cm := NewConnectionManager()

	var mu sync.Mutex
	var wg sync.WaitGroup
	received := make([][]byte, 3)
	ids := make([]string, 3)

	for i := 0; i < 3; i++ {
		conn, client := newPipeConn(t)
		cm.Add(conn)
		ids[i] = conn.ID
		readOne(t, client, &wg, &received[i], &mu)
	}

	payload := []byte(`{"type":"chat","sender":"alice","message":"hi"}`)
	cm.Broadcast(payload, nil, nil)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, got := range received {
		if string(got) != string(payload) {
			t.Errorf("connection %s: expected %s, got %s", ids[i], payload, got)
		}
	}
}

func TestBroadcastPredicateExcludes(t *testing.T) {
	cm := NewConnectionManager()

	sender, senderClient := newPipeConn(t)
	other, otherClient := newPipeConn(t)
	cm.Add(sender)
	cm.Add(other)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var got []byte
	readOne(t, otherClient, &wg, &got, &mu)

	payload := []byte(`{"type":"typing","sender":"alice"}`)
	cm.Broadcast(payload, func(id string) bool { return id != sender.ID }, nil)
	wg.Wait()

	mu.Lock()
	if string(got) != string(payload) {
		t.Errorf("other connection: expected %s, got %s", payload, got)
	}
	mu.Unlock()

	// The excluded side must see nothing.
	senderClient.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, _, err := wsutil.ReadServerData(senderClient); err == nil {
		t.Error("excluded connection received a frame")
	}
}

func TestBroadcastSkipsClosedConnections(t *testing.T) {
	cm := NewConnectionManager()

	closed, _ := newPipeConn(t)
	open, openClient := newPipeConn(t)
	cm.Add(closed)
	cm.Add(open)
	closed.Close()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var got []byte
	readOne(t, openClient, &wg, &got, &mu)

	failed := 0
	payload := []byte(`{"type":"chat","sender":"alice","message":"hi"}`)
	cm.Broadcast(payload, nil, func(*Connection) { failed++ })
	wg.Wait()

	if failed != 0 {
		t.Errorf("closed connection must be skipped, not failed: %d failures", failed)
	}
	mu.Lock()
	if string(got) != string(payload) {
		t.Errorf("open connection: expected %s, got %s", payload, got)
	}
	mu.Unlock()
}

func TestBroadcastSkipsOnboardingConnection(t *testing.T) {
	cm := NewConnectionManager()

	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})
	// Not yet activated: writable directly, but not a broadcast target.
	newcomer := &Connection{
		ID:           uuid.New().String(),
		Conn:         serverSide,
		CreatedAt:    time.Now(),
		WriteTimeout: time.Second,
	}
	cm.Add(newcomer)

	open, openClient := newPipeConn(t)
	cm.Add(open)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var got []byte
	readOne(t, openClient, &wg, &got, &mu)

	payload := []byte(`{"type":"chat","sender":"alice","message":"hi"}`)
	cm.Broadcast(payload, nil, nil)
	wg.Wait()

	mu.Lock()
	if string(got) != string(payload) {
		t.Errorf("open connection: expected %s, got %s", payload, got)
	}
	mu.Unlock()

	clientSide.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, _, err := wsutil.ReadServerData(clientSide); err == nil {
		t.Error("onboarding connection received a broadcast")
	}

	// Direct delivery still works, which is how replay payloads go out.
	var wg2 sync.WaitGroup
	var replay []byte
	clientSide.SetReadDeadline(time.Time{})
	readOne(t, clientSide, &wg2, &replay, &mu)
	if err := newcomer.WriteMessage([]byte(`{"type":"history","messages":[]}`)); err != nil {
		t.Fatalf("WriteMessage() during onboarding: %v", err)
	}
	wg2.Wait()
	mu.Lock()
	if len(replay) == 0 {
		t.Error("direct send during onboarding was not delivered")
	}
	mu.Unlock()
}

func TestBroadcastContinuesPastFailedWrite(t *testing.T) {
	cm := NewConnectionManager()

	// Socket torn down underneath an open connection, as when a peer
	// disconnects mid-broadcast.
	broken, _ := newPipeConn(t)
	broken.Conn.Close()
	healthy, healthyClient := newPipeConn(t)
	cm.Add(broken)
	cm.Add(healthy)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var got []byte
	readOne(t, healthyClient, &wg, &got, &mu)

	var failedIDs []string
	payload := []byte(`{"type":"chat","sender":"alice","message":"hi"}`)
	cm.Broadcast(payload, nil, func(c *Connection) { failedIDs = append(failedIDs, c.ID) })
	wg.Wait()

	if len(failedIDs) != 1 || failedIDs[0] != broken.ID {
		t.Errorf("expected exactly the broken connection to fail, got %v", failedIDs)
	}
	mu.Lock()
	if string(got) != string(payload) {
		t.Errorf("healthy connection: expected %s, got %s", payload, got)
	}
	mu.Unlock()
}
