package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/store"
)

func (h *handlers) listSongs(c *gin.Context) {
	songs, err := h.deps.Songs.ListSongs(c.Request.Context())
	if err != nil {
		logging.Error(c.Request.Context(), "failed to list songs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
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
	c.JSON(http.StatusOK, gin.H{"songs": out})
}

func (h *handlers) getSong(c *gin.Context) {
	songID := c.Param("songId")
	song, err := h.deps.Songs.GetSong(c.Request.Context(), songID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Song not found"})
		return
	}
	if err != nil {
		logging.Error(c.Request.Context(), "failed to get song", zap.String("song_id", songID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"song_id":     song.ID,
		"title":       song.Title,
		"artist":      song.Artist,
		"total_pages": song.PageCount,
	})
}

// serveConditional writes the file with its ETag, honoring If-None-Match.
func (h *handlers) serveConditional(c *gin.Context, path, etag, contentType string) {
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Header("ETag", etag)
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, max-age=0, must-revalidate")
	c.Header("Content-Type", contentType)
	c.File(path)
}

// getPageImage serves one page raster with a strong validator. Clients
// refetch on image_etag change using If-None-Match.
func (h *handlers) getPageImage(c *gin.Context) {
	ctx := c.Request.Context()
	songID := c.Param("songId")

	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number"})
		return
	}

	if _, err := h.deps.Songs.GetSong(ctx, songID); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Song not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	etag := h.deps.Cache.GetPageETag(ctx, songID, page)
	if etag == "" {
		etag, err = h.deps.Assets.PageETag(songID, page)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Page image not found"})
			return
		}
		h.deps.Cache.SetPageETag(ctx, songID, page, etag, time.Hour)
	}

	h.serveConditional(c, h.deps.Assets.PagePath(songID, page), etag, "image/png")
}

// getSongPDF serves the rendered PDF with the same conditional handling.
func (h *handlers) getSongPDF(c *gin.Context) {
	ctx := c.Request.Context()
	songID := c.Param("songId")

	if _, err := h.deps.Songs.GetSong(ctx, songID); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Song not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	etag, err := h.deps.Assets.PDFETag(songID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "PDF not found"})
		return
	}

	h.serveConditional(c, h.deps.Assets.PDFPath(songID), etag, "application/pdf")
}
