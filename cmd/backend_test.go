package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/repowiki/console/internal/protocol"
)

var testUpgrader = websocket.Upgrader{}

// testBackend is an in-process repowiki backend for command tests. It
// answers pings with pongs, hands every other client frame to the test,
// and lets the test push frames to the connected client.
type testBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	accepted chan *websocket.Conn
	inbound  chan protocol.Message
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{
		t:        t,
		accepted: make(chan *websocket.Conn, 8),
		inbound:  make(chan protocol.Message, 64),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *testBackend) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.accepted <- conn

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			b.t.Errorf("backend received undecodable frame: %v", err)
			continue
		}
		if _, ok := msg.(*protocol.Ping); ok {
			b.push(conn, protocol.NewPong())
			continue
		}
		b.inbound <- msg
	}
}

// waitConn returns the next accepted client connection, or nil on timeout.
// Failures are reported rather than fatal so backend scripts can run in
// their own goroutine while the command under test blocks.
func (b *testBackend) waitConn() *websocket.Conn {
	select {
	case conn := <-b.accepted:
		return conn
	case <-time.After(3 * time.Second):
		b.t.Error("timed out waiting for a client connection")
		return nil
	}
}

// waitInbound returns the next non-ping client frame, or nil on timeout.
func (b *testBackend) waitInbound() protocol.Message {
	select {
	case msg := <-b.inbound:
		return msg
	case <-time.After(3 * time.Second):
		b.t.Error("timed out waiting for a client frame")
		return nil
	}
}

// push writes a frame to the given client connection.
func (b *testBackend) push(conn *websocket.Conn, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		b.t.Errorf("encode push frame: %v", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// serverHeader builds the envelope for a backend-originated frame.
func serverHeader(typ protocol.Type, id string) protocol.Header {
	return protocol.Header{
		Type:      typ,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent use: watch runs in its
// own goroutine while the test polls its output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
