package httpapi

import (
	"context"
	"database/sql"
	"sync"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/auth"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/hub"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/store"
)

// stubVerifier resolves the token itself as the user id.
type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "bad" {
		return "", auth.ErrInvalidToken
	}
	return token, nil
}

// fakeStore is an in-memory RoomStore/SongStore/PlaylistStore.
type fakeStore struct {
	mu           sync.Mutex
	rooms        map[string]*store.Room
	participants map[string][]string
	songs        map[string]*store.Song
	playlists    map[string]*store.Playlist
	nextRoomID   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:        make(map[string]*store.Room),
		participants: make(map[string][]string),
		songs:        make(map[string]*store.Song),
		playlists:    make(map[string]*store.Playlist),
		nextRoomID:   "ROOM",
	}
}

func (f *fakeStore) CreateRoom(ctx context.Context, hostID string) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := &store.Room{ID: f.nextRoomID, HostID: hostID, CurrentPage: 1}
	f.rooms[room.ID] = room
	f.participants[room.ID] = []string{hostID}
	return room, nil
}

func (f *fakeStore) GetRoom(ctx context.Context, roomID string) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (f *fakeStore) DeleteRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[roomID]; !ok {
		return store.ErrNotFound
	}
	delete(f.rooms, roomID)
	delete(f.participants, roomID)
	return nil
}

func (f *fakeStore) SetRoomSong(ctx context.Context, roomID, songID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	room.SongID = sql.NullString{String: songID, Valid: true}
	room.CurrentPage = 1
	return nil
}

func (f *fakeStore) SetRoomPage(ctx context.Context, roomID string, page int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	room.CurrentPage = page
	return nil
}

func (f *fakeStore) AddParticipant(ctx context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.participants[roomID] {
		if existing == userID {
			return nil
		}
	}
	f.participants[roomID] = append(f.participants[roomID], userID)
	return nil
}

func (f *fakeStore) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.participants[roomID]
	for i, existing := range list {
		if existing == userID {
			f.participants[roomID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ListParticipants(ctx context.Context, roomID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.participants[roomID]...), nil
}

func (f *fakeStore) EnsureUser(ctx context.Context, userID string) error { return nil }

func (f *fakeStore) ListSongs(ctx context.Context) ([]store.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Song
	for _, s := range f.songs {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) GetSong(ctx context.Context, songID string) (*store.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	song, ok := f.songs[songID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *song
	return &cp, nil
}

func (f *fakeStore) CreatePlaylist(ctx context.Context, ownerID, name string) (*store.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl := &store.Playlist{ID: "pl-" + name, OwnerID: ownerID, Name: name}
	f.playlists[pl.ID] = pl
	return pl, nil
}

func (f *fakeStore) GetPlaylist(ctx context.Context, playlistID string) (*store.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl, ok := f.playlists[playlistID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pl
	return &cp, nil
}

func (f *fakeStore) ListPlaylists(ctx context.Context, ownerID string) ([]store.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Playlist
	for _, pl := range f.playlists {
		if pl.OwnerID == ownerID {
			out = append(out, *pl)
		}
	}
	return out, nil
}

func (f *fakeStore) SetPlaylistSongs(ctx context.Context, playlistID string, songIDs []string) error {
	return nil
}

func (f *fakeStore) ListPlaylistSongs(ctx context.Context, playlistID string) ([]store.Song, error) {
	return nil, nil
}

func (f *fakeStore) DeletePlaylist(ctx context.Context, playlistID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.playlists[playlistID]; !ok {
		return store.ErrNotFound
	}
	delete(f.playlists, playlistID)
	return nil
}

type broadcastCall struct {
	roomID  string
	kind    string
	exclude string
	song    *hub.SongUpdate
	page    *hub.PageUpdate
}

// recordingBroadcaster captures every shim call for assertions.
type recordingBroadcaster struct {
	mu         sync.Mutex
	registered []string
	calls      []broadcastCall
}

func (r *recordingBroadcaster) RegisterRoom(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, roomID)
	return true
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, roomID string, msg *hub.Message, exclude string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, broadcastCall{roomID: roomID, kind: msg.Type, exclude: exclude})
}

func (r *recordingBroadcaster) BroadcastSongUpdated(ctx context.Context, roomID string, u hub.SongUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, broadcastCall{roomID: roomID, kind: hub.KindSongUpdated, song: &u})
}

func (r *recordingBroadcaster) BroadcastPageUpdated(ctx context.Context, roomID string, u hub.PageUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, broadcastCall{roomID: roomID, kind: hub.KindPageUpdated, page: &u})
}

func (r *recordingBroadcaster) all() []broadcastCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcastCall(nil), r.calls...)
}
