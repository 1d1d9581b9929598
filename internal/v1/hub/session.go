package hub

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/metrics"
)

// sessionState tracks a session through its lifecycle:
// handshaking -> authenticated -> in_room -> closing -> closed.
type sessionState int

const (
	stateHandshaking sessionState = iota
	stateAuthenticated
	stateInRoom
	stateClosing
	stateClosed
)

// wsConn is the subset of *websocket.Conn the session uses. Kept as an
// interface so tests can substitute a scripted connection.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is the server's view of one client's live connection. It owns the
// socket, the authenticated user id, at most one room membership, a bounded
// outbound queue consumed by a single writer goroutine, and a coalescing
// buffer for high-frequency message kinds.
//
// The queue is multi-producer (any broadcaster) and single-consumer (the
// writer). Enqueue never blocks: when the queue is full the configured drop
// policy applies.
type Session struct {
	hub       *Hub
	conn      wsConn
	userID    string
	requestID string

	mu      sync.RWMutex
	roomID  string
	state   sessionState
	dropped int

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	coalesce  *coalescer
}

func newSession(h *Hub, conn wsConn, userID, requestID string) *Session {
	s := &Session{
		hub:       h,
		conn:      conn,
		userID:    userID,
		requestID: requestID,
		state:     stateAuthenticated,
		send:      make(chan []byte, h.opts.SendQueueMax),
		done:      make(chan struct{}),
	}
	if h.opts.CoalesceWindow > 0 {
		s.coalesce = newCoalescer(h.opts.CoalesceWindow, s.flushCoalesced)
	}
	return s
}

// UserID returns the authenticated user identifier.
func (s *Session) UserID() string { return s.userID }

// RoomID returns the current room membership, or "" when not in a room.
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// DroppedCount returns the cumulative number of payloads dropped from this
// session's queue.
func (s *Session) DroppedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateClosing || s.state == stateClosed
}

// ctx builds a logging context carrying correlation id, user id, and the
// current room id.
func (s *Session) ctx() context.Context {
	return logging.WithContext(context.Background(), s.requestID, s.userID, s.RoomID())
}

// Enqueue accepts a message for delivery. Coalescable kinds are buffered
// per-type and flushed once per window; everything else is encoded and
// placed on the bounded queue, applying the drop policy when full. Returns
// false when the payload was dropped or the session is closed.
func (s *Session) Enqueue(msg *Message) bool {
	if s.isClosed() {
		return false
	}

	if s.coalesce != nil && !msg.IsCritical() && s.hub.isCoalesceable(msg.Type) {
		s.coalesce.offer(msg)
		return true
	}

	payload := msg.Encode()
	if payload == nil {
		return false
	}
	return s.enqueueBytes(payload)
}

// flushCoalesced moves the surviving message per kind onto the send queue.
func (s *Session) flushCoalesced(msgs []*Message) {
	if s.isClosed() {
		return
	}
	for _, m := range msgs {
		if payload := m.Encode(); payload != nil {
			s.enqueueBytes(payload)
		}
	}
}

func (s *Session) enqueueBytes(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
	}

	// Queue is at bound; apply the drop policy.
	switch s.hub.opts.DropPolicy {
	case DropNewest:
		s.noteDrop("newest")
		return false
	default:
		// DropOldest; DropRandom is reserved and falls back here.
		select {
		case <-s.send:
		default:
		}
		s.noteDrop("oldest")
		select {
		case s.send <- payload:
			return true
		default:
			return false
		}
	}
}

func (s *Session) noteDrop(policy string) {
	s.mu.Lock()
	s.dropped++
	dropped := s.dropped
	s.mu.Unlock()

	metrics.DroppedMessages.WithLabelValues(policy).Inc()
	logging.Warn(s.ctx(), "send queue full, dropped message",
		zap.String("policy", policy), zap.Int("dropped_count", dropped))

	if threshold := s.hub.opts.SlowClientDisconnectAfterDrops; threshold > 0 && dropped >= threshold {
		metrics.SlowClientDisconnects.Inc()
		logging.Warn(s.ctx(), "slow client exceeded drop threshold, closing",
			zap.Int("dropped_count", dropped), zap.Int("threshold", threshold))
		s.closeWithCode(CloseSlowClient, "Too many dropped messages")
	}
}

// readPump consumes inbound frames until the connection errors or closes.
// Binary frames are reserved and ignored; malformed JSON and unknown types
// are logged and skipped without closing the connection. Panics are
// contained to this session (close code 1011).
func (s *Session) readPump() {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(s.ctx(), "panic in read pump", zap.Any("panic", r))
			s.closeWithCode(CloseInternalError, "internal error")
		}
		s.hub.handleDisconnect(s)
		s.shutdown()
		metrics.DecConnection()
	}()

	s.conn.SetReadLimit(s.hub.opts.MaxMessageBytes)

	for {
		if idle := s.hub.opts.ReadIdleTimeout; idle > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(idle))
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			// Binary frames are reserved.
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn(s.ctx(), "invalid JSON from client", zap.Error(err))
			metrics.WebsocketEvents.WithLabelValues("malformed", "ignored").Inc()
			continue
		}

		switch msg.Type {
		case KindJoinRoom:
			s.handleJoinRoom(msg.RoomID)
			metrics.WebsocketEvents.WithLabelValues(KindJoinRoom, "ok").Inc()
		case KindLeaveRoom:
			s.handleLeaveRoom()
			metrics.WebsocketEvents.WithLabelValues(KindLeaveRoom, "ok").Inc()
		default:
			logging.Warn(s.ctx(), "unknown message type", zap.String("msg_type", msg.Type))
			metrics.WebsocketEvents.WithLabelValues("unknown", "ignored").Inc()
		}
	}
}

// handleJoinRoom binds the session to the target room, leaving any previous
// room silently first. The reply goes to the joining session only; the HTTP
// control plane is the authoritative source for participant_joined
// broadcasts.
func (s *Session) handleJoinRoom(roomID string) {
	if roomID == "" {
		s.Enqueue(ErrorMessage("No room_id provided"))
		return
	}

	s.mu.Lock()
	prev := s.roomID
	s.roomID = roomID
	s.state = stateInRoom
	s.mu.Unlock()

	s.hub.moveSession(s, prev, roomID)

	if prev != "" && prev != roomID {
		logging.Info(s.ctx(), "session moved rooms", zap.String("from_room", prev))
	} else {
		logging.Info(s.ctx(), "session joined room")
	}

	s.Enqueue(NewMessage(KindJoinRoomSuccess, map[string]any{"room_id": roomID}))
}

// handleLeaveRoom notifies the remaining members before removing
// membership, so the room still exists while participant_left fans out.
func (s *Session) handleLeaveRoom() {
	s.mu.Lock()
	roomID := s.roomID
	if roomID == "" {
		s.mu.Unlock()
		s.Enqueue(ErrorMessage("Not in any room"))
		return
	}
	s.mu.Unlock()

	s.hub.Broadcast(s.ctx(), roomID,
		NewMessage(KindParticipantLeft, map[string]any{"user_id": s.userID}), s.userID)
	s.hub.leaveRoom(s, roomID)

	s.mu.Lock()
	s.roomID = ""
	s.state = stateAuthenticated
	s.mu.Unlock()

	logging.Info(logging.WithContext(context.Background(), s.requestID, s.userID, roomID), "session left room")
	s.Enqueue(NewMessage(KindRoomLeft, map[string]any{"room_id": roomID}))
}

// writePump dequeues encoded payloads and writes frames until the session
// closes or a write fails. Write errors are terminal: no retry, and
// broadcasts to this session stop. After a payload at or above the yield
// threshold the writer yields once to the scheduler.
func (s *Session) writePump() {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(s.ctx(), "panic in write pump", zap.Any("panic", r))
			s.closeWithCode(CloseInternalError, "internal error")
		}
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Warn(s.ctx(), "write failed, terminating session", zap.Error(err))
				s.shutdown()
				return
			}
			if len(payload) >= s.hub.opts.YieldThresholdBytes {
				runtime.Gosched()
			}
		}
	}
}

// detach clears room membership without notification. Used when a newer
// session for the same user evicts this one; the user is still present, so
// no participant_left is emitted.
func (s *Session) detach() {
	s.mu.Lock()
	s.roomID = ""
	s.state = stateAuthenticated
	s.mu.Unlock()
}

// closeWithCode sends a close frame and shuts the session down.
func (s *Session) closeWithCode(code int, reason string) {
	s.mu.Lock()
	if s.state == stateClosing || s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosing
	s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	s.shutdown()
}

// shutdown tears down session-owned resources exactly once: the coalesce
// timer, the writer, and the queue contents (discarded; there is no
// drain-on-close guarantee). Registry and membership cleanup happen in the
// read pump's deferred disconnect handling.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosed
		s.mu.Unlock()

		if s.coalesce != nil {
			s.coalesce.stop()
		}
		close(s.done)

	drain:
		for {
			select {
			case <-s.send:
			default:
				break drain
			}
		}

		_ = s.conn.Close()
	})
}
