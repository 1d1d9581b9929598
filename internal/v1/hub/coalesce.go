package hub

import (
	"sync"
	"time"
)

// coalescer implements per-session, per-type last-write-wins suppression.
// Messages of a coalescable kind are buffered instead of enqueued; the
// first message after a window expires schedules a single flush, and every
// message of the same kind arriving before the flush overwrites the
// buffered value. The flush delivers at most one message per kind.
type coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	until   time.Time
	latest  map[string]*Message
	order   []string
	timer   *time.Timer
	flush   func([]*Message)
	stopped bool
}

func newCoalescer(window time.Duration, flush func([]*Message)) *coalescer {
	return &coalescer{
		window: window,
		latest: make(map[string]*Message),
		flush:  flush,
	}
}

// offer buffers the message, starting a new window when the previous one
// has expired. A message arriving exactly at window expiry is the first of
// a new window.
func (c *coalescer) offer(m *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	now := time.Now()
	if !now.Before(c.until) {
		c.until = now.Add(c.window)
		c.timer = time.AfterFunc(c.window, c.fire)
	}

	if _, ok := c.latest[m.Type]; !ok {
		c.order = append(c.order, m.Type)
	}
	c.latest[m.Type] = m
}

func (c *coalescer) fire() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	msgs := make([]*Message, 0, len(c.order))
	for _, kind := range c.order {
		if m, ok := c.latest[kind]; ok {
			msgs = append(msgs, m)
		}
	}
	c.latest = make(map[string]*Message)
	c.order = nil
	c.mu.Unlock()

	if len(msgs) > 0 {
		c.flush(msgs)
	}
}

// stop cancels any scheduled flush and discards buffered messages.
func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.latest = make(map[string]*Message)
	c.order = nil
}
