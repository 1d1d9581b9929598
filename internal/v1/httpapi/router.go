// Package httpapi is the HTTP control plane: room CRUD, song and page
// selection, the song catalog, playlists, and conditional asset retrieval.
// State changes are persisted first and then pushed through the broadcast
// shim, so the relational store stays the source of truth and the
// WebSocket fabric stays a pure fan-out layer.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/assets"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/auth"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/cache"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/health"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/hub"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/middleware"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/ratelimit"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/store"
)

// RoomStore is the subset of the store the room handlers use.
type RoomStore interface {
	CreateRoom(ctx context.Context, hostID string) (*store.Room, error)
	GetRoom(ctx context.Context, roomID string) (*store.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	SetRoomSong(ctx context.Context, roomID, songID string) error
	SetRoomPage(ctx context.Context, roomID string, page int) error
	AddParticipant(ctx context.Context, roomID, userID string) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	ListParticipants(ctx context.Context, roomID string) ([]string, error)
	EnsureUser(ctx context.Context, userID string) error
}

// SongStore is the subset of the store the catalog handlers use.
type SongStore interface {
	ListSongs(ctx context.Context) ([]store.Song, error)
	GetSong(ctx context.Context, songID string) (*store.Song, error)
}

// PlaylistStore is the subset of the store the playlist handlers use.
type PlaylistStore interface {
	CreatePlaylist(ctx context.Context, ownerID, name string) (*store.Playlist, error)
	GetPlaylist(ctx context.Context, playlistID string) (*store.Playlist, error)
	ListPlaylists(ctx context.Context, ownerID string) ([]store.Playlist, error)
	SetPlaylistSongs(ctx context.Context, playlistID string, songIDs []string) error
	ListPlaylistSongs(ctx context.Context, playlistID string) ([]store.Song, error)
	DeletePlaylist(ctx context.Context, playlistID string) error
}

// Broadcaster is the control-plane shim onto the WebSocket fabric. The
// HTTP layer never sees sessions, only rooms.
type Broadcaster interface {
	RegisterRoom(roomID string) bool
	Broadcast(ctx context.Context, roomID string, msg *hub.Message, exclude string)
	BroadcastSongUpdated(ctx context.Context, roomID string, u hub.SongUpdate)
	BroadcastPageUpdated(ctx context.Context, roomID string, u hub.PageUpdate)
}

// Deps collects everything the router needs.
type Deps struct {
	Rooms     RoomStore
	Songs     SongStore
	Playlists PlaylistStore
	Hub       Broadcaster
	Verifier  auth.Verifier
	Assets    *assets.Library
	Cache     *cache.Cache // may be nil
	Limiter   *ratelimit.RateLimiter
	Health    *health.Handler

	RequestIDHeader string
	AllowedOrigins  []string
}

// NewRouter assembles the control-plane engine.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(deps.RequestIDHeader))
	router.Use(otelgin.Middleware("chordcast-backend"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = deps.AllowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", deps.RequestIDHeader)
	router.Use(cors.New(corsConfig))

	if deps.Limiter != nil {
		router.Use(deps.Limiter.GlobalMiddleware())
	}

	h := &handlers{deps: deps}

	api := router.Group("/api/v1")
	{
		roomGroup := api.Group("/rooms", h.requireAuth())
		if deps.Limiter != nil {
			roomGroup.Use(deps.Limiter.RoomsMiddleware())
		}
		roomGroup.POST("", h.createRoom)
		roomGroup.GET("/:roomId", h.getRoom)
		roomGroup.DELETE("/:roomId", h.closeRoom)
		roomGroup.POST("/:roomId/join", h.joinRoom)
		roomGroup.POST("/:roomId/leave", h.leaveRoom)
		roomGroup.PUT("/:roomId/song", h.selectSong)
		roomGroup.PUT("/:roomId/page", h.changePage)

		songGroup := api.Group("/songs", h.requireAuth())
		songGroup.GET("", h.listSongs)
		songGroup.GET("/:songId", h.getSong)
		songGroup.GET("/:songId/pdf", h.getSongPDF)
		songGroup.GET("/:songId/pages/:page/image", h.getPageImage)

		playlistGroup := api.Group("/playlists", h.requireAuth())
		playlistGroup.GET("", h.listPlaylists)
		playlistGroup.POST("", h.createPlaylist)
		playlistGroup.GET("/:playlistId", h.getPlaylist)
		playlistGroup.PUT("/:playlistId", h.updatePlaylist)
		playlistGroup.DELETE("/:playlistId", h.deletePlaylist)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if deps.Health != nil {
		router.GET("/health/live", deps.Health.Liveness)
		router.GET("/health/ready", deps.Health.Readiness)
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	return router
}

type handlers struct {
	deps Deps
}
