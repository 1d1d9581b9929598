package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ListSongs returns the catalog ordered by title.
func (s *Store) ListSongs(ctx context.Context) ([]Song, error) {
	defer observe("list_songs", time.Now())

	var songs []Song
	err := s.db.SelectContext(ctx, &songs, `SELECT * FROM songs ORDER BY title, artist`)
	if err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}
	return songs, nil
}

// GetSong fetches one song by id.
func (s *Store) GetSong(ctx context.Context, songID string) (*Song, error) {
	defer observe("get_song", time.Now())

	var song Song
	err := s.db.GetContext(ctx, &song, `SELECT * FROM songs WHERE id = $1`, songID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get song %s: %w", songID, err)
	}
	return &song, nil
}
