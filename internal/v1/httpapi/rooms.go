package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/assets"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/cache"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/hub"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/store"
)

const roomSnapshotTTL = 30 * time.Second

func (h *handlers) roomError(c *gin.Context, roomID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	logging.Error(c.Request.Context(), "room store error", zap.String("room_id", roomID), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// createRoom persists a room with the caller as host and pre-registers it
// with the hub so broadcasts issued before the host's WebSocket join are
// not lost.
func (h *handlers) createRoom(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)

	if err := h.deps.Rooms.EnsureUser(ctx, userID); err != nil {
		logging.Error(ctx, "failed to ensure user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	room, err := h.deps.Rooms.CreateRoom(ctx, userID)
	if err != nil {
		logging.Error(ctx, "failed to create room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.deps.Hub.RegisterRoom(room.ID)
	logging.Info(ctx, "room created", zap.String("room_id", room.ID))

	c.JSON(http.StatusCreated, gin.H{
		"room_id": room.ID,
		"host_id": room.HostID,
	})
}

// getRoom serves the reconciliation snapshot clients read after a
// reconnect.
func (h *handlers) getRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("roomId")

	if snap := h.deps.Cache.GetRoomSnapshot(ctx, roomID); snap != nil {
		c.JSON(http.StatusOK, snap)
		return
	}

	room, err := h.deps.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		h.roomError(c, roomID, err)
		return
	}
	participants, err := h.deps.Rooms.ListParticipants(ctx, roomID)
	if err != nil {
		h.roomError(c, roomID, err)
		return
	}

	snap := &cache.RoomSnapshot{
		RoomID:       room.ID,
		HostID:       room.HostID,
		SongID:       room.SongID.String,
		CurrentPage:  room.CurrentPage,
		Participants: participants,
	}
	h.deps.Cache.SetRoomSnapshot(ctx, snap, roomSnapshotTTL)

	c.JSON(http.StatusOK, snap)
}

// joinRoom persists membership and broadcasts participant_joined. This
// endpoint, not the WebSocket join, is the authoritative source of the
// participant_joined event.
func (h *handlers) joinRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("roomId")
	userID := currentUser(c)

	if _, err := h.deps.Rooms.GetRoom(ctx, roomID); err != nil {
		h.roomError(c, roomID, err)
		return
	}
	if err := h.deps.Rooms.EnsureUser(ctx, userID); err != nil {
		h.roomError(c, roomID, err)
		return
	}
	if err := h.deps.Rooms.AddParticipant(ctx, roomID, userID); err != nil {
		h.roomError(c, roomID, err)
		return
	}

	h.deps.Cache.InvalidateRoom(ctx, roomID)
	h.deps.Hub.Broadcast(ctx, roomID,
		hub.NewMessage(hub.KindParticipantJoined, map[string]any{"user_id": userID}), userID)

	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "user_id": userID})
}

// leaveRoom persists the removal and broadcasts participant_left.
func (h *handlers) leaveRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("roomId")
	userID := currentUser(c)

	if err := h.deps.Rooms.RemoveParticipant(ctx, roomID, userID); err != nil {
		h.roomError(c, roomID, err)
		return
	}

	h.deps.Cache.InvalidateRoom(ctx, roomID)
	h.deps.Hub.Broadcast(ctx, roomID,
		hub.NewMessage(hub.KindParticipantLeft, map[string]any{"user_id": userID}), userID)

	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

// closeRoom is host-only: every member receives room_closed before the row
// is deleted.
func (h *handlers) closeRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("roomId")

	if _, ok := h.requireHost(c, roomID); !ok {
		return
	}

	h.deps.Hub.Broadcast(ctx, roomID,
		hub.NewMessage(hub.KindRoomClosed, map[string]any{
			"room_id": roomID,
			"reason":  "Host closed the room",
		}), "")

	if err := h.deps.Rooms.DeleteRoom(ctx, roomID); err != nil {
		h.roomError(c, roomID, err)
		return
	}
	h.deps.Cache.InvalidateRoom(ctx, roomID)
	logging.Info(ctx, "room closed", zap.String("room_id", roomID))

	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

type selectSongRequest struct {
	SongID string `json:"song_id" binding:"required"`
}

// selectSong is host-only: persists the selection and broadcasts
// song_updated metadata. Clients fetch the page image over HTTP when the
// etag changes.
func (h *handlers) selectSong(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("roomId")

	if _, ok := h.requireHost(c, roomID); !ok {
		return
	}

	var req selectSongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No song_id provided"})
		return
	}

	song, err := h.deps.Songs.GetSong(ctx, req.SongID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Song not found"})
		return
	}
	if err != nil {
		h.roomError(c, roomID, err)
		return
	}

	if err := h.deps.Rooms.SetRoomSong(ctx, roomID, song.ID); err != nil {
		h.roomError(c, roomID, err)
		return
	}
	h.deps.Cache.InvalidateRoom(ctx, roomID)

	h.deps.Hub.BroadcastSongUpdated(ctx, roomID, hub.SongUpdate{
		SongID:      song.ID,
		Title:       song.Title,
		Artist:      song.Artist,
		CurrentPage: 1,
		TotalPages:  song.PageCount,
		ImageETag:   h.broadcastETag(c, song.ID, 1),
	})

	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "song_id": song.ID})
}

type changePageRequest struct {
	Page int `json:"page" binding:"required"`
}

// changePage is host-only: clamps the page into range, persists it, and
// broadcasts page_updated metadata.
func (h *handlers) changePage(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("roomId")

	if _, ok := h.requireHost(c, roomID); !ok {
		return
	}

	var req changePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No page provided"})
		return
	}

	room, err := h.deps.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		h.roomError(c, roomID, err)
		return
	}
	if !room.SongID.Valid {
		c.JSON(http.StatusConflict, gin.H{"error": "No song selected"})
		return
	}

	song, err := h.deps.Songs.GetSong(ctx, room.SongID.String)
	if err != nil {
		h.roomError(c, roomID, err)
		return
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	if page > song.PageCount {
		page = song.PageCount
	}

	if err := h.deps.Rooms.SetRoomPage(ctx, roomID, page); err != nil {
		h.roomError(c, roomID, err)
		return
	}
	h.deps.Cache.InvalidateRoom(ctx, roomID)

	h.deps.Hub.BroadcastPageUpdated(ctx, roomID, hub.PageUpdate{
		SongID:      song.ID,
		Title:       song.Title,
		Artist:      song.Artist,
		CurrentPage: page,
		TotalPages:  song.PageCount,
		ImageETag:   h.broadcastETag(c, song.ID, page),
	})

	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "current_page": page})
}

// broadcastETag derives the weak etag for the broadcast metadata, going
// through the cache when enabled. Missing assets degrade to an empty etag
// rather than failing the state change.
func (h *handlers) broadcastETag(c *gin.Context, songID string, page int) string {
	ctx := c.Request.Context()

	if cached := h.deps.Cache.GetPageETag(ctx, songID, page); cached != "" {
		return assets.BroadcastETag(cached, page)
	}

	strong, err := h.deps.Assets.PageETag(songID, page)
	if err != nil {
		logging.Warn(ctx, "page image unavailable for etag",
			zap.String("song_id", songID), zap.Int("page", page), zap.Error(err))
		return ""
	}
	h.deps.Cache.SetPageETag(ctx, songID, page, strong, time.Hour)
	return assets.BroadcastETag(strong, page)
}
