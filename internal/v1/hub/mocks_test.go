package hub

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/auth"
)

// stubVerifier resolves the token itself as the user id, with two magic
// tokens to exercise the failure paths.
type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, token string) (string, error) {
	switch token {
	case "INVALID":
		return "", auth.ErrInvalidToken
	case "EXPIRED":
		return "", auth.ErrExpiredToken
	}
	return token, nil
}

type readResult struct {
	messageType int
	data        []byte
	err         error
}

type closeFrame struct {
	code   int
	reason string
}

// mockConn is a scriptable wsConn. Inbound frames are fed through reads;
// outbound frames are recorded and signalled on writes.
type mockConn struct {
	mu          sync.Mutex
	writes      [][]byte
	controls    []closeFrame
	writeErr    error
	writeBlock  chan struct{} // when non-nil, WriteMessage blocks until closed
	reads       chan readResult
	closeOnce   sync.Once
	closed      chan struct{}
	writeSignal chan []byte
}

func newMockConn() *mockConn {
	return &mockConn{
		reads:       make(chan readResult, 16),
		closed:      make(chan struct{}),
		writeSignal: make(chan []byte, 64),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-m.reads:
		return r.messageType, r.data, r.err
	case <-m.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	if m.writeBlock != nil {
		select {
		case <-m.writeBlock:
		case <-m.closed:
			return errors.New("connection closed")
		}
	}

	m.mu.Lock()
	err := m.writeErr
	if err == nil {
		buf := make([]byte, len(data))
		copy(buf, data)
		m.writes = append(m.writes, buf)
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}

	select {
	case m.writeSignal <- data:
	default:
	}
	return nil
}

func (m *mockConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	frame := closeFrame{}
	if len(data) >= 2 {
		frame.code = int(binary.BigEndian.Uint16(data[:2]))
		frame.reason = string(data[2:])
	}
	m.mu.Lock()
	m.controls = append(m.controls, frame)
	m.mu.Unlock()
	return nil
}

func (m *mockConn) SetReadLimit(limit int64)           {}
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) writtenFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *mockConn) closeFrames() []closeFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]closeFrame, len(m.controls))
	copy(out, m.controls)
	return out
}

func (m *mockConn) setWriteErr(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// newTestHub builds a hub with the stub verifier. Callers must Close it.
func newTestHub(opts Options) *Hub {
	return NewHub(stubVerifier{}, opts)
}

// addSession registers a session over a mock connection without running
// the pumps, so tests can inspect the send queue directly.
func addSession(h *Hub, userID string) (*Session, *mockConn) {
	conn := newMockConn()
	s := newSession(h, conn, userID, "req-"+userID)
	h.register(s)
	return s, conn
}

// drainQueue empties the session's send queue, returning the payloads.
func drainQueue(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-s.send:
			out = append(out, b)
		default:
			return out
		}
	}
}
