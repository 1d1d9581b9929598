package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := New(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPageETag_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	assert.Empty(t, c.GetPageETag(ctx, "42", 1))

	c.SetPageETag(ctx, "42", 1, `"abc"`, time.Minute)
	assert.Equal(t, `"abc"`, c.GetPageETag(ctx, "42", 1))
}

func TestInvalidateSongETags(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.SetPageETag(ctx, "42", 1, `"a"`, time.Minute)
	c.SetPageETag(ctx, "42", 2, `"b"`, time.Minute)

	c.InvalidateSongETags(ctx, "42", 2)

	assert.Empty(t, c.GetPageETag(ctx, "42", 1))
	assert.Empty(t, c.GetPageETag(ctx, "42", 2))
}

func TestRoomSnapshot_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	assert.Nil(t, c.GetRoomSnapshot(ctx, "R1"))

	snap := &RoomSnapshot{
		RoomID:       "R1",
		HostID:       "host",
		SongID:       "42",
		CurrentPage:  3,
		Participants: []string{"host", "p1"},
	}
	c.SetRoomSnapshot(ctx, snap, time.Minute)

	got := c.GetRoomSnapshot(ctx, "R1")
	require.NotNil(t, got)
	assert.Equal(t, snap, got)
}

func TestInvalidateRoom(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.SetRoomSnapshot(ctx, &RoomSnapshot{RoomID: "R1", HostID: "h"}, time.Minute)
	c.InvalidateRoom(ctx, "R1")

	assert.Nil(t, c.GetRoomSnapshot(ctx, "R1"))
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	assert.Empty(t, c.GetPageETag(ctx, "42", 1))
	c.SetPageETag(ctx, "42", 1, `"a"`, time.Minute)
	assert.Nil(t, c.GetRoomSnapshot(ctx, "R1"))
	c.SetRoomSnapshot(ctx, &RoomSnapshot{RoomID: "R1"}, time.Minute)
	c.InvalidateRoom(ctx, "R1")
	c.InvalidateSongETags(ctx, "42", 3)
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
	assert.Nil(t, c.Client())
}

func TestNew_UnreachableRedis(t *testing.T) {
	_, err := New("127.0.0.1:1", "")
	assert.Error(t, err)
}
