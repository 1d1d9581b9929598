package hub

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonCritical(id string) *Message {
	return NewMessage("setlist_updated", map[string]any{"setlist_id": id})
}

func TestEnqueue_DropOldest(t *testing.T) {
	h := newTestHub(Options{SendQueueMax: 2, DropPolicy: DropOldest})
	defer h.Close()
	s, _ := addSession(h, "u1")

	assert.True(t, s.Enqueue(nonCritical("m1")))
	assert.True(t, s.Enqueue(nonCritical("m2")))
	// Queue at bound: the head is removed and m3 becomes the new tail.
	assert.True(t, s.Enqueue(nonCritical("m3")))

	payloads := drainQueue(s)
	require.Len(t, payloads, 2)
	assert.Equal(t, "m2", decode(t, payloads[0])["setlist_id"])
	assert.Equal(t, "m3", decode(t, payloads[1])["setlist_id"])
	assert.Equal(t, 1, s.DroppedCount())
}

func TestEnqueue_DropNewest(t *testing.T) {
	h := newTestHub(Options{SendQueueMax: 2, DropPolicy: DropNewest})
	defer h.Close()
	s, _ := addSession(h, "u1")

	assert.True(t, s.Enqueue(nonCritical("m1")))
	assert.True(t, s.Enqueue(nonCritical("m2")))
	assert.False(t, s.Enqueue(nonCritical("m3")))

	payloads := drainQueue(s)
	require.Len(t, payloads, 2)
	assert.Equal(t, "m1", decode(t, payloads[0])["setlist_id"])
	assert.Equal(t, "m2", decode(t, payloads[1])["setlist_id"])
	assert.Equal(t, 1, s.DroppedCount())
}

func TestEnqueue_QueueNeverExceedsBound(t *testing.T) {
	h := newTestHub(Options{SendQueueMax: 3})
	defer h.Close()
	s, _ := addSession(h, "u1")

	for i := 0; i < 20; i++ {
		s.Enqueue(nonCritical("m"))
		assert.LessOrEqual(t, len(s.send), 3)
	}
}

func TestSlowClientDisconnect(t *testing.T) {
	h := newTestHub(Options{SendQueueMax: 1, SlowClientDisconnectAfterDrops: 2})
	defer h.Close()
	s, conn := addSession(h, "u1")

	s.Enqueue(nonCritical("m1"))
	s.Enqueue(nonCritical("m2")) // drop 1
	s.Enqueue(nonCritical("m3")) // drop 2 -> threshold

	require.NotEmpty(t, conn.closeFrames())
	frame := conn.closeFrames()[0]
	assert.Equal(t, CloseSlowClient, frame.code)
	assert.Equal(t, "Too many dropped messages", frame.reason)
	assert.True(t, s.isClosed())
}

func TestEnqueue_ClosedSessionRejected(t *testing.T) {
	h := newTestHub(Options{})
	defer h.Close()
	s, _ := addSession(h, "u1")

	s.shutdown()
	assert.False(t, s.Enqueue(nonCritical("m1")))
	assert.Empty(t, drainQueue(s))
}

func TestSessionCoalescing(t *testing.T) {
	h := newTestHub(Options{CoalesceWindow: 30 * time.Millisecond})
	defer h.Close()
	s, _ := addSession(h, "u1")

	for page := 2; page <= 6; page++ {
		s.Enqueue(pageUpdatedMessage(PageUpdate{SongID: "42", CurrentPage: page, TotalPages: 6}))
	}

	// Nothing is queued until the window flushes.
	assert.Empty(t, drainQueue(s))

	assert.Eventually(t, func() bool {
		return len(s.send) == 1
	}, time.Second, 5*time.Millisecond)

	payloads := drainQueue(s)
	require.Len(t, payloads, 1)
	data := decode(t, payloads[0])["data"].(map[string]any)
	assert.Equal(t, float64(6), data["current_page"])
}

func TestCriticalBypassesCoalescing(t *testing.T) {
	h := newTestHub(Options{CoalesceWindow: 50 * time.Millisecond})
	defer h.Close()
	s, _ := addSession(h, "u1")

	s.Enqueue(NewMessage(KindParticipantLeft, map[string]any{"user_id": "u2"}))
	assert.Len(t, drainQueue(s), 1)
}

func TestWritePump_PreservesEnqueueOrder(t *testing.T) {
	h := newTestHub(Options{SendQueueMax: 10})
	defer h.Close()
	s, conn := addSession(h, "u1")

	s.Enqueue(nonCritical("m1"))
	s.Enqueue(nonCritical("m2"))
	s.Enqueue(nonCritical("m3"))

	go s.writePump()

	assert.Eventually(t, func() bool {
		return len(conn.writtenFrames()) == 3
	}, time.Second, 5*time.Millisecond)

	frames := conn.writtenFrames()
	assert.Equal(t, "m1", decode(t, frames[0])["setlist_id"])
	assert.Equal(t, "m2", decode(t, frames[1])["setlist_id"])
	assert.Equal(t, "m3", decode(t, frames[2])["setlist_id"])

	s.shutdown()
}

func TestWritePump_WriteErrorTerminates(t *testing.T) {
	h := newTestHub(Options{})
	defer h.Close()
	s, conn := addSession(h, "u1")
	conn.setWriteErr(errors.New("broken pipe"))

	go s.writePump()
	s.Enqueue(nonCritical("m1"))

	assert.Eventually(t, s.isClosed, time.Second, 5*time.Millisecond)
	assert.False(t, s.Enqueue(nonCritical("m2")))
}

func TestReadPump_MalformedInboundKeepsConnectionOpen(t *testing.T) {
	h := newTestHub(Options{})
	defer h.Close()
	s, conn := addSession(h, "u1")

	go s.readPump()

	conn.reads <- readResult{messageType: websocket.TextMessage, data: []byte("{not json")}
	conn.reads <- readResult{messageType: websocket.TextMessage, data: []byte(`{"type":"warp_drive"}`)}
	conn.reads <- readResult{messageType: websocket.BinaryMessage, data: []byte{0x01}}

	join, _ := json.Marshal(map[string]any{"type": "join_room", "room_id": "R1"})
	conn.reads <- readResult{messageType: websocket.TextMessage, data: join}

	assert.Eventually(t, func() bool {
		return s.RoomID() == "R1"
	}, time.Second, 5*time.Millisecond)

	payloads := drainQueue(s)
	require.Len(t, payloads, 1)
	assert.Equal(t, "join_room_success", decode(t, payloads[0])["type"])

	conn.Close()
	assert.Eventually(t, s.isClosed, time.Second, 5*time.Millisecond)
}

func TestHandleJoinRoom_MissingRoomID(t *testing.T) {
	h := newTestHub(Options{})
	defer h.Close()
	s, _ := addSession(h, "u1")

	s.handleJoinRoom("")

	payloads := drainQueue(s)
	require.Len(t, payloads, 1)
	obj := decode(t, payloads[0])
	assert.Equal(t, "error", obj["type"])
	assert.Equal(t, "No room_id provided", obj["message"])
	assert.Empty(t, s.RoomID())
}

func TestHandleLeaveRoom_NotInRoom(t *testing.T) {
	h := newTestHub(Options{})
	defer h.Close()
	s, _ := addSession(h, "u1")

	s.handleLeaveRoom()

	payloads := drainQueue(s)
	require.Len(t, payloads, 1)
	obj := decode(t, payloads[0])
	assert.Equal(t, "error", obj["type"])
	assert.Equal(t, "Not in any room", obj["message"])
}

func TestHandleJoinRoom_MoveLeavesOldRoomSilently(t *testing.T) {
	h := newTestHub(Options{})
	defer h.Close()
	s, _ := addSession(h, "u1")
	other, _ := addSession(h, "u2")
	other.handleJoinRoom("R1")
	drainQueue(other)

	s.handleJoinRoom("R1")
	drainQueue(s)

	s.handleJoinRoom("R2")

	assert.Equal(t, "R2", s.RoomID())
	// No participant_left is emitted from the join handler.
	assert.Empty(t, drainQueue(other))

	payloads := drainQueue(s)
	require.Len(t, payloads, 1)
	obj := decode(t, payloads[0])
	assert.Equal(t, "join_room_success", obj["type"])
	assert.Equal(t, "R2", obj["room_id"])
}

func TestHandleLeaveRoom_NotifiesOthersBeforeRemoval(t *testing.T) {
	h := newTestHub(Options{})
	defer h.Close()
	p1, _ := addSession(h, "p1")
	p2, _ := addSession(h, "p2")
	p1.handleJoinRoom("R3")
	p2.handleJoinRoom("R3")
	drainQueue(p1)
	drainQueue(p2)

	p1.handleLeaveRoom()

	p2Payloads := drainQueue(p2)
	require.Len(t, p2Payloads, 1)
	obj := decode(t, p2Payloads[0])
	assert.Equal(t, "participant_left", obj["type"])
	assert.Equal(t, "p1", obj["user_id"])

	p1Payloads := drainQueue(p1)
	require.Len(t, p1Payloads, 1)
	left := decode(t, p1Payloads[0])
	assert.Equal(t, "room_left", left["type"])
	assert.Equal(t, "R3", left["room_id"])
	assert.Empty(t, p1.RoomID())
}
