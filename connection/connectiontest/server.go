// Package connectiontest provides an in-process WebSocket server that
// records client messages and lets tests push frames, for exercising the
// connection manager without a real view server.
package connectiontest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server wraps an httptest.Server speaking the subscribe/unsubscribe/ping
// client protocol over every WebSocket connection it accepts, recording
// every client message it receives and allowing the test to push frames.
type Server struct {
	httpServer *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []json.RawMessage
}

// New starts the server. Call Close when done.
func New() *Server {
	s := &Server{}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// URL clients should dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

// Close tears down the underlying httptest.Server and any open connections.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	s.httpServer.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, append(json.RawMessage(nil), payload...))
		s.mu.Unlock()
	}
}

// Received returns every client message received so far, in arrival order.
func (s *Server) Received() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]json.RawMessage, len(s.received))
	copy(out, s.received)
	return out
}

// Broadcast writes payload to every currently open connection.
func (s *Server) Broadcast(payload []byte) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, len(s.conns))
	copy(conns, s.conns)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.WriteMessage(websocket.TextMessage, payload)
	}
}

// CloseClientConnections forcibly closes every currently open connection,
// simulating a transport drop so tests can exercise reconnect.
func (s *Server) CloseClientConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
