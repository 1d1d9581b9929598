package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/metrics"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// roomCodeAlphabet excludes look-alike characters so codes survive being
// read aloud off a projector.
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const roomCodeLength = 4

// GenerateRoomCode produces a short join code.
func GenerateRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate room code: %w", err)
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

func observe(query string, start time.Time) {
	metrics.StoreQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// CreateRoom inserts a room with a fresh code, retrying on code collision.
// The host is recorded as the first participant.
func (s *Store) CreateRoom(ctx context.Context, hostID string) (*Room, error) {
	defer observe("create_room", time.Now())

	for attempt := 0; attempt < 5; attempt++ {
		code, err := GenerateRoomCode()
		if err != nil {
			return nil, err
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO rooms (id, host_id) VALUES ($1, $2)`, code, hostID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				continue
			}
			return nil, fmt.Errorf("failed to create room: %w", err)
		}

		if err := s.AddParticipant(ctx, code, hostID); err != nil {
			return nil, err
		}
		return s.GetRoom(ctx, code)
	}
	return nil, errors.New("failed to allocate a unique room code")
}

// GetRoom fetches a room by its code.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	defer observe("get_room", time.Now())

	var room Room
	err := s.db.GetContext(ctx, &room, `SELECT * FROM rooms WHERE id = $1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	return &room, nil
}

// DeleteRoom removes the room and, via cascade, its participants.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	defer observe("delete_room", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRoomSong records the host's song selection and resets to page 1.
func (s *Store) SetRoomSong(ctx context.Context, roomID, songID string) error {
	defer observe("set_room_song", time.Now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET song_id = $2, current_page = 1 WHERE id = $1`, roomID, songID)
	if err != nil {
		return fmt.Errorf("failed to set song for room %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRoomPage records the host's page change.
func (s *Store) SetRoomPage(ctx context.Context, roomID string, page int) error {
	defer observe("set_room_page", time.Now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET current_page = $2 WHERE id = $1`, roomID, page)
	if err != nil {
		return fmt.Errorf("failed to set page for room %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddParticipant upserts a membership row.
func (s *Store) AddParticipant(ctx context.Context, roomID, userID string) error {
	defer observe("add_participant", time.Now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to add participant to room %s: %w", roomID, err)
	}
	return nil
}

// RemoveParticipant deletes a membership row.
func (s *Store) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	defer observe("remove_participant", time.Now())

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove participant from room %s: %w", roomID, err)
	}
	return nil
}

// ListParticipants returns the user ids of the room's persisted roster.
func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]string, error) {
	defer observe("list_participants", time.Now())

	var userIDs []string
	err := s.db.SelectContext(ctx, &userIDs,
		`SELECT user_id FROM room_participants WHERE room_id = $1 ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants of room %s: %w", roomID, err)
	}
	return userIDs, nil
}

// EnsureUser inserts the user row on first sight of an authenticated id.
func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	defer observe("ensure_user", time.Now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	return nil
}
