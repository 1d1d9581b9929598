package hub

import (
	"context"
	"time"
)

// DropPolicy selects the behavior when a session's send queue is full.
type DropPolicy string

const (
	// DropOldest removes the head of the queue to make room for the new
	// payload. Default.
	DropOldest DropPolicy = "oldest"
	// DropNewest discards the incoming payload.
	DropNewest DropPolicy = "newest"
	// DropRandom is reserved and currently behaves like DropOldest.
	DropRandom DropPolicy = "random"
)

// TokenHeader is the header carrying the bearer token on the WebSocket
// handshake; the "token" query parameter is the fallback.
const TokenHeader = "X-Auth-Token"

// Options tune the broadcast fabric. Zero values fall back to the defaults
// documented on each field.
type Options struct {
	// RequestIDHeader names the correlation header. Default "X-Request-ID".
	RequestIDHeader string
	// SendQueueMax bounds each session's outbound queue. Default 100.
	SendQueueMax int
	// CoalesceWindow is the flush delay for coalesced kinds. No default is
	// applied here: zero disables coalescing entirely (the config layer
	// supplies 50ms).
	CoalesceWindow time.Duration
	// DropPolicy applies when a send queue is full. Default DropOldest.
	DropPolicy DropPolicy
	// AutoFragmentSize caps the size of outgoing frame fragments.
	// Default 65536.
	AutoFragmentSize int
	// MaxMessageBytes caps inbound frame payloads. Default 1048576.
	MaxMessageBytes int64
	// YieldThresholdBytes makes the writer yield to the scheduler after
	// writing a payload at least this large. Default 262144.
	YieldThresholdBytes int
	// SlowClientDisconnectAfterDrops closes a session with code 4002 once
	// its cumulative drop count reaches this value. Default 0 = disabled.
	SlowClientDisconnectAfterDrops int
	// CoalesceTypes lists the message kinds subject to per-session
	// coalescing. Default page_updated, song_updated.
	CoalesceTypes []string
	// ReadIdleTimeout, when positive, sets a read deadline to reap zombie
	// connections. Default 0 = disabled.
	ReadIdleTimeout time.Duration
	// AllowedOrigins restricts browser origins on upgrade. An empty list
	// admits only clients that send no Origin header.
	AllowedOrigins []string
	// ConnectLimit, when set, is consulted after authentication; a non-nil
	// error closes the handshake with 1013 (try again later).
	ConnectLimit func(ctx context.Context, userID string) error
}

const (
	defaultSendQueueMax     = 100
	defaultAutoFragmentSize = 65536
	defaultMaxMessageBytes  = 1048576
	defaultYieldThreshold   = 262144
	defaultRequestIDHeader  = "X-Request-ID"

	// batchFlushInterval drives the per-room batching loop.
	batchFlushInterval = 200 * time.Millisecond

	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.RequestIDHeader == "" {
		o.RequestIDHeader = defaultRequestIDHeader
	}
	if o.SendQueueMax <= 0 {
		o.SendQueueMax = defaultSendQueueMax
	}
	if o.DropPolicy == "" {
		o.DropPolicy = DropOldest
	}
	if o.AutoFragmentSize <= 0 {
		o.AutoFragmentSize = defaultAutoFragmentSize
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	if o.YieldThresholdBytes <= 0 {
		o.YieldThresholdBytes = defaultYieldThreshold
	}
	if o.CoalesceTypes == nil {
		o.CoalesceTypes = []string{KindPageUpdated, KindSongUpdated}
	}
	return o
}

// WebSocket close codes used by the fabric. 4003 and 4004 are reserved.
const (
	CloseAuthMissing    = 4000
	CloseAuthInvalid    = 4001
	CloseSlowClient     = 4002
	CloseNotParticipant = 4003
	CloseRoomNotFound   = 4004
	CloseInternalError  = 1011
)
