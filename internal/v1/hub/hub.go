// Package hub implements the real-time room broadcast fabric: authenticated
// long-lived WebSocket sessions, per-session bounded outbound queues with
// coalescing and drop policies, and selective per-room fan-out with
// batching of non-critical messages.
//
// The Hub is the process-wide coordinator. It owns the user -> session map
// (1:1, latest wins), the room registry, and the per-room pending-batch
// lists driven by a periodic flush. Room CRUD and authoritative membership
// live in the HTTP control plane; the hub only tracks which live sessions
// currently observe each room.
//
// Concurrency: the hub mutex guards the maps; broadcast enumeration
// snapshots the membership set before enqueueing so fan-out never holds the
// lock across session operations. Each session's queue is multi-producer,
// single-consumer. No cross-room locks exist: a broadcast to one room never
// blocks another.
package hub

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/auth"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/metrics"
)

// Hub coordinates every live session in the process.
type Hub struct {
	verifier auth.Verifier
	opts     Options
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections map[string]*Session        // user_id -> most recent session
	rooms       map[string]set.Set[string] // room_id -> member user_ids
	pending     map[string][]*Message      // room_id -> batch queue

	coalesceSet map[string]struct{}

	flushInterval time.Duration
	done          chan struct{}
	closeOnce     sync.Once
}

// NewHub creates the hub and starts its periodic batch-flush loop.
func NewHub(verifier auth.Verifier, opts Options) *Hub {
	opts = opts.withDefaults()

	h := &Hub{
		verifier:      verifier,
		opts:          opts,
		connections:   make(map[string]*Session),
		rooms:         make(map[string]set.Set[string]),
		pending:       make(map[string][]*Message),
		coalesceSet:   make(map[string]struct{}, len(opts.CoalesceTypes)),
		flushInterval: batchFlushInterval,
		done:          make(chan struct{}),
	}
	for _, kind := range opts.CoalesceTypes {
		h.coalesceSet[kind] = struct{}{}
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize: 4096,
		// Outgoing frames split at the write-buffer boundary.
		WriteBufferSize: opts.AutoFragmentSize,
		CheckOrigin:     h.checkOrigin,
	}

	go h.flushLoop()
	return h
}

func (h *Hub) isCoalesceable(kind string) bool {
	_, ok := h.coalesceSet[kind]
	return ok
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Allow non-browser clients (e.g., for testing)
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, allowed := range h.opts.AllowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeWs upgrades the HTTP request and runs the handshake: correlation id,
// token extraction, identity verification, queue/writer allocation,
// registration, and the single connection_success message. Authentication
// failures close the socket with 4000/4001 before any server message.
func (h *Hub) ServeWs(c *gin.Context) {
	requestID := c.GetHeader(h.opts.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ctx := logging.WithContext(c.Request.Context(), requestID, "", "")

	token := extractToken(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(ctx, "failed to upgrade connection", zap.Error(err))
		return
	}

	if token == "" {
		logging.Warn(ctx, "websocket rejected: missing auth token",
			zap.String("client_ip", c.ClientIP()))
		closeConn(conn, CloseAuthMissing, "Authentication required")
		return
	}

	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		logging.Warn(ctx, "websocket auth failed",
			zap.String("client_ip", c.ClientIP()), zap.Error(err))
		closeConn(conn, CloseAuthInvalid, auth.CloseReason(err))
		return
	}

	if h.opts.ConnectLimit != nil {
		if err := h.opts.ConnectLimit(ctx, userID); err != nil {
			logging.Warn(ctx, "websocket connection rate limited",
				zap.String("user_id", userID), zap.Error(err))
			closeConn(conn, websocket.CloseTryAgainLater, "Too many connection attempts")
			return
		}
	}

	s := newSession(h, conn, userID, requestID)

	go s.writePump()
	h.register(s)

	s.Enqueue(NewMessage(KindConnectionSuccess, map[string]any{"user_id": userID}))
	metrics.IncConnection()
	logging.Info(logging.WithContext(ctx, "", userID, ""), "websocket connected")

	go s.readPump()
}

// extractToken pulls the bearer token from the auth header (case
// insensitive), an Authorization bearer value, or the token query
// parameter.
func extractToken(c *gin.Context) string {
	if t := c.GetHeader(TokenHeader); t != "" {
		return t
	}
	if bearer := c.GetHeader("Authorization"); len(bearer) > 7 && bearer[:7] == "Bearer " {
		return bearer[7:]
	}
	return c.Query("token")
}

func closeConn(conn wsConn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// register installs the session as the user's current one. A prior session
// for the same user is evicted: its membership is removed silently (the
// user is still present) and it is closed with a normal-closure frame.
func (h *Hub) register(s *Session) {
	h.mu.Lock()
	old := h.connections[s.userID]
	if old != nil && old != s {
		if roomID := old.RoomID(); roomID != "" {
			h.removeMembershipLocked(s.userID, roomID)
			old.detach()
		}
	}
	h.connections[s.userID] = s
	h.mu.Unlock()

	if old != nil && old != s {
		logging.Info(s.ctx(), "duplicate connection, evicting previous session")
		old.closeWithCode(websocket.CloseNormalClosure, "session superseded")
	}
}

// unregister removes the session from the user map unless a newer session
// already replaced it.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if h.connections[s.userID] == s {
		delete(h.connections, s.userID)
	}
	h.mu.Unlock()
}

// handleDisconnect runs cleanup for a session leaving the fabric, graceful
// or not: participant_left fans out to the remaining members before the
// membership is removed.
func (h *Hub) handleDisconnect(s *Session) {
	if roomID := s.RoomID(); roomID != "" {
		h.Broadcast(s.ctx(), roomID,
			NewMessage(KindParticipantLeft, map[string]any{"user_id": s.userID}), s.userID)
		h.leaveRoom(s, roomID)
		logging.Info(s.ctx(), "session disconnected in room", zap.String("room_id", roomID))
	} else {
		logging.Info(s.ctx(), "session disconnected")
	}
	h.unregister(s)
}

// RegisterRoom ensures a room entry exists before any session joins, so
// broadcasts issued between HTTP room creation and the first WebSocket join
// are not dropped. Idempotent; returns true when the entry was created.
func (h *Hub) RegisterRoom(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; ok {
		return false
	}
	h.rooms[roomID] = set.New[string]()
	metrics.ActiveRooms.Inc()
	logging.Info(logging.WithContext(context.Background(), "", "", roomID), "room registered")
	return true
}

// moveSession adds the session to the target room (creating the entry when
// absent) and silently removes it from the previous room, if any.
func (h *Hub) moveSession(s *Session, prevRoomID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		members = set.New[string]()
		h.rooms[roomID] = members
		metrics.ActiveRooms.Inc()
	}
	members.Insert(s.userID)
	metrics.RoomParticipants.WithLabelValues(roomID).Set(float64(members.Len()))

	if prevRoomID != "" && prevRoomID != roomID {
		h.removeMembershipLocked(s.userID, prevRoomID)
	}
}

func (h *Hub) leaveRoom(s *Session, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMembershipLocked(s.userID, roomID)
}

// removeMembershipLocked drops the user from the room and deletes the room
// entry once its membership is empty. Caller holds h.mu.
func (h *Hub) removeMembershipLocked(userID, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok || !members.Has(userID) {
		return
	}
	members.Delete(userID)

	if members.Len() == 0 {
		delete(h.rooms, roomID)
		delete(h.pending, roomID)
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(roomID)
		logging.Info(logging.WithContext(context.Background(), "", "", roomID), "room removed (empty)")
	} else {
		metrics.RoomParticipants.WithLabelValues(roomID).Set(float64(members.Len()))
	}
}

// Broadcast fans a message out to every connected member of the room,
// minus the optional excluded user. Critical and coalescable kinds are
// enqueued synchronously; everything else joins the room's pending batch.
// Messages to unregistered rooms are dropped with a warning.
func (h *Hub) Broadcast(ctx context.Context, roomID string, msg *Message, exclude string) {
	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		logging.Warn(ctx, "broadcast to unregistered room",
			zap.String("room_id", roomID), zap.String("event_type", msg.Type))
		metrics.BroadcastsTotal.WithLabelValues(msg.Type, "unknown_room").Inc()
		return
	}

	// Coalesced kinds skip batching: each session's coalescer already
	// suppresses the intermediate states.
	if msg.IsCritical() || h.isCoalesceable(msg.Type) {
		targets := h.snapshotLocked(members, exclude)
		h.mu.Unlock()

		for _, s := range targets {
			s.Enqueue(msg)
		}
		metrics.BroadcastsTotal.WithLabelValues(msg.Type, "delivered").Inc()
		return
	}

	h.pending[roomID] = append(h.pending[roomID], msg)
	h.mu.Unlock()
	metrics.BroadcastsTotal.WithLabelValues(msg.Type, "queued").Inc()
}

// snapshotLocked resolves the membership set to live sessions, skipping the
// excluded user. Caller holds h.mu; enumeration afterwards is lock-free.
func (h *Hub) snapshotLocked(members set.Set[string], exclude string) []*Session {
	targets := make([]*Session, 0, members.Len())
	for _, userID := range members.UnsortedList() {
		if exclude != "" && userID == exclude {
			continue
		}
		if s, ok := h.connections[userID]; ok {
			targets = append(targets, s)
		}
	}
	return targets
}

// BroadcastSongUpdated broadcasts metadata for the host's song selection.
// Image bytes are never embedded; clients fetch the page raster over HTTP
// when the etag changes.
func (h *Hub) BroadcastSongUpdated(ctx context.Context, roomID string, u SongUpdate) {
	h.Broadcast(ctx, roomID, songUpdatedMessage(u), "")
}

// BroadcastPageUpdated broadcasts metadata for the host's page change.
func (h *Hub) BroadcastPageUpdated(ctx context.Context, roomID string, u PageUpdate) {
	logging.Info(ctx, "broadcasting page update",
		zap.String("room_id", roomID), zap.Int("page", u.CurrentPage))
	h.Broadcast(ctx, roomID, pageUpdatedMessage(u), "")
}

// flushLoop drives per-room batch delivery.
func (h *Hub) flushLoop() {
	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.flushPending()
		}
	}
}

type delivery struct {
	targets []*Session
	msg     *Message
}

// flushPending walks every room's pending list: a single message is
// delivered as-is, multiple messages are wrapped into one batched_update.
func (h *Hub) flushPending() {
	h.mu.Lock()
	var deliveries []delivery
	for roomID, msgs := range h.pending {
		if len(msgs) == 0 {
			continue
		}
		delete(h.pending, roomID)

		members, ok := h.rooms[roomID]
		if !ok {
			logging.Warn(context.Background(), "dropping pending batch for removed room",
				zap.String("room_id", roomID))
			continue
		}

		out := msgs[0]
		if len(msgs) > 1 {
			out = batchedUpdate(msgs)
		}
		metrics.BatchFlushSize.Observe(float64(len(msgs)))
		deliveries = append(deliveries, delivery{targets: h.snapshotLocked(members, ""), msg: out})
	}
	h.mu.Unlock()

	for _, d := range deliveries {
		for _, s := range d.targets {
			s.Enqueue(d.msg)
		}
	}
}

// ConnectionCount returns the number of registered sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// RoomCount returns the number of registered rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close stops the flush loop and closes every session. Used on shutdown.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		sessions := make([]*Session, 0, len(h.connections))
		for _, s := range h.connections {
			sessions = append(sessions, s)
		}
		h.mu.Unlock()

		for _, s := range sessions {
			s.closeWithCode(websocket.CloseGoingAway, "server shutting down")
		}
	})
}
