package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreatePlaylist inserts an empty playlist owned by the user.
func (s *Store) CreatePlaylist(ctx context.Context, ownerID, name string) (*Playlist, error) {
	defer observe("create_playlist", time.Now())

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playlists (id, owner_id, name) VALUES ($1, $2, $3)`, id, ownerID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}
	return s.GetPlaylist(ctx, id)
}

// GetPlaylist fetches one playlist by id.
func (s *Store) GetPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	defer observe("get_playlist", time.Now())

	var pl Playlist
	err := s.db.GetContext(ctx, &pl, `SELECT * FROM playlists WHERE id = $1`, playlistID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist %s: %w", playlistID, err)
	}
	return &pl, nil
}

// ListPlaylists returns the user's playlists.
func (s *Store) ListPlaylists(ctx context.Context, ownerID string) ([]Playlist, error) {
	defer observe("list_playlists", time.Now())

	var pls []Playlist
	err := s.db.SelectContext(ctx, &pls,
		`SELECT * FROM playlists WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	return pls, nil
}

// SetPlaylistSongs replaces the playlist's song list with the given order.
func (s *Store) SetPlaylistSongs(ctx context.Context, playlistID string, songIDs []string) error {
	defer observe("set_playlist_songs", time.Now())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM playlist_songs WHERE playlist_id = $1`, playlistID); err != nil {
		return fmt.Errorf("failed to clear playlist %s: %w", playlistID, err)
	}
	for i, songID := range songIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO playlist_songs (playlist_id, song_id, position) VALUES ($1, $2, $3)`,
			playlistID, songID, i); err != nil {
			return fmt.Errorf("failed to add song %s to playlist %s: %w", songID, playlistID, err)
		}
	}
	return tx.Commit()
}

// ListPlaylistSongs returns the playlist's songs in position order.
func (s *Store) ListPlaylistSongs(ctx context.Context, playlistID string) ([]Song, error) {
	defer observe("list_playlist_songs", time.Now())

	var songs []Song
	err := s.db.SelectContext(ctx, &songs,
		`SELECT s.* FROM songs s
		 JOIN playlist_songs ps ON ps.song_id = s.id
		 WHERE ps.playlist_id = $1 ORDER BY ps.position`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list songs of playlist %s: %w", playlistID, err)
	}
	return songs, nil
}

// DeletePlaylist removes the playlist and its song links.
func (s *Store) DeletePlaylist(ctx context.Context, playlistID string) error {
	defer observe("delete_playlist", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = $1`, playlistID)
	if err != nil {
		return fmt.Errorf("failed to delete playlist %s: %w", playlistID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
