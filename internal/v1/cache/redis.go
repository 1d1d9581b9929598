// Package cache provides a Redis-backed cache for derived artifacts the
// control plane reads on hot paths: page-image ETags and room-state
// snapshots. All calls run behind a circuit breaker so a Redis outage
// degrades to direct computation instead of failing requests.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/chordcast/ChordCast/backend/go/internal/v1/logging"
	"github.com/chordcast/ChordCast/backend/go/internal/v1/metrics"
)

const prefix = "chordcast:"

// Cache wraps the Redis client. A nil *Cache is valid and behaves as a miss
// on every read, so callers need no redis-enabled branches.
type Cache struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, e.g. for the rate limiter
// store. Nil when the cache is disabled.
func (c *Cache) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// New connects to Redis and verifies connectivity with a ping.
func New(addr, password string) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("cache").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to redis cache", zap.String("addr", addr))
	return &Cache{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Ping verifies Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.cb.Execute(func() (interface{}, error) {
		b, err := c.client.Get(ctx, prefix+key).Bytes()
		if err == redis.Nil {
			return []byte(nil), nil
		}
		return b, err
	})
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		return nil, err
	}
	metrics.CacheOperationsTotal.WithLabelValues("get", "ok").Inc()
	return v.([]byte), nil
}

func (c *Cache) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, prefix+key, value, ttl).Err()
	})
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("set", "error").Inc()
		return err
	}
	metrics.CacheOperationsTotal.WithLabelValues("set", "ok").Inc()
	return nil
}

// Delete removes a key. Safe on nil receiver.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, prefix+key).Err()
	})
	return err
}

func etagKey(songID string, page int) string {
	return fmt.Sprintf("etag:%s:%d", songID, page)
}

// GetPageETag returns the cached ETag for a song page, or "" on miss or
// when the cache is disabled.
func (c *Cache) GetPageETag(ctx context.Context, songID string, page int) string {
	if c == nil {
		return ""
	}
	b, err := c.get(ctx, etagKey(songID, page))
	if err != nil {
		logging.Warn(ctx, "etag cache read failed", zap.Error(err))
		return ""
	}
	return string(b)
}

// SetPageETag caches the ETag for a song page.
func (c *Cache) SetPageETag(ctx context.Context, songID string, page int, etag string, ttl time.Duration) {
	if c == nil {
		return
	}
	if err := c.set(ctx, etagKey(songID, page), []byte(etag), ttl); err != nil {
		logging.Warn(ctx, "etag cache write failed", zap.Error(err))
	}
}

// InvalidateSongETags removes the cached ETags for every page of a song.
func (c *Cache) InvalidateSongETags(ctx context.Context, songID string, totalPages int) {
	if c == nil {
		return
	}
	for page := 1; page <= totalPages; page++ {
		_ = c.Delete(ctx, etagKey(songID, page))
	}
}

// RoomSnapshot is the reconnect-reconciliation view of a room served by
// GET /rooms/:roomId.
type RoomSnapshot struct {
	RoomID       string   `json:"room_id"`
	HostID       string   `json:"host_id"`
	SongID       string   `json:"song_id,omitempty"`
	CurrentPage  int      `json:"current_page"`
	Participants []string `json:"participants"`
}

// GetRoomSnapshot returns the cached snapshot, or nil on miss.
func (c *Cache) GetRoomSnapshot(ctx context.Context, roomID string) *RoomSnapshot {
	if c == nil {
		return nil
	}
	b, err := c.get(ctx, "room:"+roomID)
	if err != nil || len(b) == 0 {
		return nil
	}
	var snap RoomSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		logging.Warn(ctx, "corrupt room snapshot in cache", zap.Error(err))
		return nil
	}
	return &snap
}

// SetRoomSnapshot caches the snapshot with a short TTL; room state changes
// invalidate via InvalidateRoom.
func (c *Cache) SetRoomSnapshot(ctx context.Context, snap *RoomSnapshot, ttl time.Duration) {
	if c == nil || snap == nil {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.set(ctx, "room:"+snap.RoomID, b, ttl); err != nil {
		logging.Warn(ctx, "room snapshot cache write failed", zap.Error(err))
	}
}

// InvalidateRoom drops the cached snapshot for a room.
func (c *Cache) InvalidateRoom(ctx context.Context, roomID string) {
	_ = c.Delete(ctx, "room:"+roomID)
}
