package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/store"
)

func (h *handlers) playlistError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Playlist not found"})
		return
	}
	logging.Error(c.Request.Context(), "playlist store error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// ownedPlaylist loads the playlist and aborts unless the caller owns it.
func (h *handlers) ownedPlaylist(c *gin.Context) (*store.Playlist, bool) {
	pl, err := h.deps.Playlists.GetPlaylist(c.Request.Context(), c.Param("playlistId"))
	if err != nil {
		h.playlistError(c, err)
		return nil, false
	}
	if pl.OwnerID != currentUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You don't have permission to perform this action"})
		return nil, false
	}
	return pl, true
}

func (h *handlers) listPlaylists(c *gin.Context) {
	pls, err := h.deps.Playlists.ListPlaylists(c.Request.Context(), currentUser(c))
	if err != nil {
		h.playlistError(c, err)
		return
	}

	out := make([]gin.H, 0, len(pls))
	for _, pl := range pls {
		out = append(out, gin.H{"playlist_id": pl.ID, "name": pl.Name})
	}
	c.JSON(http.StatusOK, gin.H{"playlists": out})
}

type createPlaylistRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *handlers) createPlaylist(c *gin.Context) {
	var req createPlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No name provided"})
		return
	}

	pl, err := h.deps.Playlists.CreatePlaylist(c.Request.Context(), currentUser(c), req.Name)
	if err != nil {
		h.playlistError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"playlist_id": pl.ID, "name": pl.Name})
}

func (h *handlers) getPlaylist(c *gin.Context) {
	pl, ok := h.ownedPlaylist(c)
	if !ok {
		return
	}

	songs, err := h.deps.Playlists.ListPlaylistSongs(c.Request.Context(), pl.ID)
	if err != nil {
		h.playlistError(c, err)
		return
	}

	out := make([]gin.H, 0, len(songs))
	for _, s := range songs {
		out = append(out, gin.H{
			"song_id":     s.ID,
			"title":       s.Title,
			"artist":      s.Artist,
			"total_pages": s.PageCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"playlist_id": pl.ID, "name": pl.Name, "songs": out})
}

type updatePlaylistRequest struct {
	SongIDs []string `json:"song_ids" binding:"required"`
}

func (h *handlers) updatePlaylist(c *gin.Context) {
	pl, ok := h.ownedPlaylist(c)
	if !ok {
		return
	}

	var req updatePlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No song_ids provided"})
		return
	}

	if err := h.deps.Playlists.SetPlaylistSongs(c.Request.Context(), pl.ID, req.SongIDs); err != nil {
		h.playlistError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playlist_id": pl.ID})
}

func (h *handlers) deletePlaylist(c *gin.Context) {
	pl, ok := h.ownedPlaylist(c)
	if !ok {
		return
	}

	if err := h.deps.Playlists.DeletePlaylist(c.Request.Context(), pl.ID); err != nil {
		h.playlistError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playlist_id": pl.ID})
}
