package gateway

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// Identity is the validated identity a session was created with.
type Identity struct {
	UUID     string
	Username string
	APIKey   string
}

// Conn is the physical duplex connection a session binds to. The
// websocket adapter implements it; tests substitute fakes.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Session is one logical client session. It survives physical
// disconnects: while detached its replay buffer stays intact so a resumed
// connection can receive everything it missed, in original order.
type Session struct {
	ID       string
	Identity Identity

	mu     sync.Mutex
	buffer [][]byte
	conn   Conn
}

// NewSession creates a registered session.
func NewSession(id string, identity Identity) *Session {
	return &Session{ID: id, Identity: identity}
}

// Seq is the session's sequence counter: buffer length + 1, i.e. the
// sequence number the next buffered message will carry.
func (s *Session) Seq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer) + 1
}

// Bound reports whether the session is currently bound to a live
// physical connection.
func (s *Session) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// TryBind binds the session to a connection. It fails if the session is
// already bound elsewhere.
func (s *Session) TryBind(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return false
	}
	s.conn = conn
	return true
}

// Unbind detaches the session from conn. A stale unbind (the session has
// since been bound to a different connection) is a no-op.
func (s *Session) Unbind(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
}

// SendBuffered appends the frame to the replay buffer and then writes it
// to the bound connection. The append happens first: a frame whose write
// fails remains buffered and is recovered by a later resume.
func (s *Session) SendBuffered(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, frame)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Send(ctx, frame)
}

// BufferedAfter returns copies of the buffered frames with sequence
// numbers greater than lastSeq, in original send order.
func (s *Session) BufferedAfter(lastSeq int) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastSeq < 0 {
		lastSeq = 0
	}
	if lastSeq >= len(s.buffer) {
		return nil
	}
	out := make([][]byte, len(s.buffer)-lastSeq)
	copy(out, s.buffer[lastSeq:])
	return out
}

// ClearBuffer drops all buffered frames after a fully successful replay.
func (s *Session) ClearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
}
