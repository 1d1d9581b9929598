package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaylistLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/v1/playlists", "owner", map[string]any{"name": "setlist"})
	require.Equal(t, http.StatusCreated, w.Code)
	playlistID := body(t, w)["playlist_id"].(string)

	w = f.do(t, "GET", "/api/v1/playlists", "owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body(t, w)["playlists"], 1)

	// Another user cannot read or delete it.
	w = f.do(t, "GET", "/api/v1/playlists/"+playlistID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, "DELETE", "/api/v1/playlists/"+playlistID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "DELETE", "/api/v1/playlists/"+playlistID, "owner", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/api/v1/playlists/"+playlistID, "owner", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreatePlaylist_RequiresName(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/v1/playlists", "owner", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
