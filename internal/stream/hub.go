// Package stream fans session events out to live subscribers (the SSE
// endpoint) and, when Redis is configured, publishes them on the session's
// channel for outside consumers. Events from Redis are never relayed back to
// local subscribers: a page only ever shows its own session.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"loctrack/internal/notice"
	"loctrack/internal/tracker"
)

const (
	EventSample = "sample"
	EventClear  = "clear"
	EventNotice = "notice"

	DefaultPrefix = "loctrack"
)

type Event struct {
	Type    string          `json:"type"`
	Session string          `json:"session"`
	Origin  string          `json:"origin"`
	Count   int             `json:"count"`
	Sample  *tracker.Sample `json:"sample,omitempty"`
	Notice  *notice.Notice  `json:"notice,omitempty"`
}

type Client struct {
	Send chan []byte
}

// Hub is a tracker.View and a notice.Notifier for one session.
type Hub struct {
	redis   *redis.Client
	prefix  string
	session string
	origin  string

	mu      sync.RWMutex
	clients map[*Client]struct{}

	pub    chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub builds a hub for sessionID. rdb may be nil.
func NewHub(rdb *redis.Client, prefix, sessionID string) *Hub {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &Hub{
		redis:   rdb,
		prefix:  prefix,
		session: sessionID,
		origin:  uuid.NewString(),
		clients: map[*Client]struct{}{},
		pub:     make(chan []byte, 256),
	}
}

// Start checks Redis and runs the publisher. Without Redis it does nothing.
func (h *Hub) Start(ctx context.Context) error {
	if h.redis == nil {
		return nil
	}
	if h.cancel != nil {
		return nil
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.publishLoop(runCtx)
	}()
	log.Printf("stream redis enabled channel=%s", h.Channel())
	return nil
}

func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
		h.wg.Wait()
		h.cancel = nil
	}
}

func (h *Hub) Register() *Client {
	c := &Client{Send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast stamps ev with this hub's session and origin, delivers it to
// local clients and queues it for Redis. Slow clients drop events.
func (h *Hub) Broadcast(ev Event) {
	ev.Session = h.session
	ev.Origin = h.origin
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("stream: marshal %s event: %v", ev.Type, err)
		return
	}
	h.deliver(payload)

	if h.redis != nil {
		select {
		case h.pub <- payload:
		default:
			log.Printf("stream: redis publish queue full, dropping %s event", ev.Type)
		}
	}
}

func (h *Hub) deliver(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.Send <- payload:
		default:
		}
	}
}

func (h *Hub) SampleAdded(s tracker.Sample, all []tracker.Sample) {
	h.Broadcast(Event{Type: EventSample, Sample: &s, Count: len(all)})
}

func (h *Hub) Cleared() {
	h.Broadcast(Event{Type: EventClear})
}

func (h *Hub) Notify(n notice.Notice) {
	h.Broadcast(Event{Type: EventNotice, Notice: &n})
}

func (h *Hub) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.pub:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := h.redis.Publish(pctx, h.Channel(), payload).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				log.Printf("redis publish error: %v", err)
			}
		}
	}
}

// Channel is the Redis channel this hub publishes on.
func (h *Hub) Channel() string {
	return h.prefix + ":" + h.session + ":events"
}
