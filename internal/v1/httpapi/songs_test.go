package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSongs(t *testing.T) {
	f := newFixture(t)
	f.addSong(t, "42", "T", 2)

	w := f.do(t, "GET", "/api/v1/songs", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	songs := body(t, w)["songs"].([]any)
	require.Len(t, songs, 1)
	first := songs[0].(map[string]any)
	assert.Equal(t, "42", first["song_id"])
	assert.Equal(t, float64(2), first["total_pages"])
}

func TestGetSong_NotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/api/v1/songs/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPageImage_ETagAndConditionalGet(t *testing.T) {
	f := newFixture(t)
	f.addSong(t, "42", "T", 1)

	w := f.do(t, "GET", "/api/v1/songs/42/pages/1/image", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	// Replay with If-None-Match: the image is not resent.
	req, err := http.NewRequest("GET", "/api/v1/songs/42/pages/1/image", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer u1")
	req.Header.Set("If-None-Match", etag)

	w2 := performRequest(f, req)
	assert.Equal(t, http.StatusNotModified, w2.Code)
	assert.Empty(t, w2.Body.Bytes())
}

func TestGetPageImage_InvalidPage(t *testing.T) {
	f := newFixture(t)
	f.addSong(t, "42", "T", 1)

	w := f.do(t, "GET", "/api/v1/songs/42/pages/zero/image", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPageImage_MissingAsset(t *testing.T) {
	f := newFixture(t)
	f.addSong(t, "42", "T", 1)

	w := f.do(t, "GET", "/api/v1/songs/42/pages/9/image", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSongPDF_NotRendered(t *testing.T) {
	f := newFixture(t)
	f.addSong(t, "42", "T", 1)

	w := f.do(t, "GET", "/api/v1/songs/42/pdf", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
