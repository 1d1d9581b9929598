package hub

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
)

// Client -> server message kinds.
const (
	KindJoinRoom  = "join_room"
	KindLeaveRoom = "leave_room"
)

// Server -> client message kinds.
const (
	KindConnectionSuccess = "connection_success"
	KindJoinRoomSuccess   = "join_room_success"
	KindRoomLeft          = "room_left"
	KindError             = "error"
	KindParticipantJoined = "participant_joined"
	KindParticipantLeft   = "participant_left"
	KindRoomClosed        = "room_closed"
	KindSongUpdated       = "song_updated"
	KindPageUpdated       = "page_updated"
	KindBatchedUpdate     = "batched_update"
)

// criticalKinds bypass both coalescing and batching and are enqueued
// directly on every target session.
var criticalKinds = map[string]struct{}{
	KindRoomClosed:        {},
	KindParticipantJoined: {},
	KindParticipantLeft:   {},
	KindConnectionSuccess: {},
	KindJoinRoomSuccess:   {},
	KindRoomLeft:          {},
	KindError:             {},
}

// Message is one server-to-client event. The encoded wire form is computed
// at most once, no matter how many sessions the message fans out to.
type Message struct {
	Type string
	// Fields are the top-level JSON members besides "type".
	Fields map[string]any
	// Critical forces the direct-enqueue path for kinds outside the
	// built-in critical set.
	Critical bool

	once    sync.Once
	encoded []byte
}

// NewMessage builds a message of the given kind. fields may be nil.
func NewMessage(kind string, fields map[string]any) *Message {
	return &Message{Type: kind, Fields: fields}
}

// NewCritical builds a message that bypasses coalescing and batching
// regardless of its kind.
func NewCritical(kind string, fields map[string]any) *Message {
	return &Message{Type: kind, Fields: fields, Critical: true}
}

// ErrorMessage builds the protocol's {type:"error", message} reply.
func ErrorMessage(text string) *Message {
	return NewMessage(KindError, map[string]any{"message": text})
}

// IsCritical reports whether the message must skip coalescing and batching.
func (m *Message) IsCritical() bool {
	if m.Critical {
		return true
	}
	_, ok := criticalKinds[m.Type]
	return ok
}

// payload returns the full JSON object for this message, including the
// type discriminator. Used directly when wrapping into a batched_update.
func (m *Message) payload() map[string]any {
	obj := make(map[string]any, len(m.Fields)+1)
	obj["type"] = m.Type
	for k, v := range m.Fields {
		obj[k] = v
	}
	return obj
}

// Encode returns the wire bytes, marshaling once. Returns nil when the
// payload cannot be marshaled; callers skip nil payloads.
func (m *Message) Encode() []byte {
	m.once.Do(func() {
		b, err := json.Marshal(m.payload())
		if err != nil {
			logging.Error(context.Background(), "failed to encode message",
				zap.String("event_type", m.Type), zap.Error(err))
			return
		}
		m.encoded = b
	})
	return m.encoded
}

// batchedUpdate wraps several pending room messages into one frame.
func batchedUpdate(msgs []*Message) *Message {
	payloads := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		payloads = append(payloads, m.payload())
	}
	return NewMessage(KindBatchedUpdate, map[string]any{
		"data": map[string]any{"messages": payloads},
	})
}

// clientMessage is the decoded form of an inbound text frame.
type clientMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SongUpdate carries the metadata broadcast when the host selects a song.
// Image bytes are never embedded; clients fetch the page raster over HTTP
// using the etag.
type SongUpdate struct {
	SongID      string
	Title       string
	Artist      string
	CurrentPage int
	TotalPages  int
	ImageETag   string // optional
}

// PageUpdate carries the metadata broadcast when the host changes pages.
type PageUpdate struct {
	SongID      string
	Title       string
	Artist      string
	CurrentPage int
	TotalPages  int
	ImageETag   string
}

func songUpdatedMessage(u SongUpdate) *Message {
	data := map[string]any{
		"song_id":      u.SongID,
		"title":        u.Title,
		"artist":       u.Artist,
		"current_page": u.CurrentPage,
		"total_pages":  u.TotalPages,
	}
	if u.ImageETag != "" {
		data["image_etag"] = u.ImageETag
	}
	return NewMessage(KindSongUpdated, map[string]any{"data": data})
}

func pageUpdatedMessage(u PageUpdate) *Message {
	return NewMessage(KindPageUpdated, map[string]any{"data": map[string]any{
		"song_id":      u.SongID,
		"title":        u.Title,
		"artist":       u.Artist,
		"current_page": u.CurrentPage,
		"total_pages":  u.TotalPages,
		"image_etag":   u.ImageETag,
	}})
}
