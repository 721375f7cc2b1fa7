package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"loctrack/internal/notice"
	"loctrack/internal/tracker"
)

func recv(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal %s: %v", msg, err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return Event{}
}

func TestHubLocalEvents(t *testing.T) {
	hub := NewHub(nil, "", "session-1")
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer hub.Close()

	c := hub.Register()
	defer hub.Unregister(c)

	s := tracker.Sample{Timestamp: "2024-01-01 10:00:00", LatDeg: 1.5, LonDeg: 2.5}
	hub.SampleAdded(s, []tracker.Sample{s})
	ev := recv(t, c)
	if ev.Type != EventSample || ev.Count != 1 || ev.Sample == nil || ev.Sample.LatDeg != 1.5 {
		t.Fatalf("event=%+v", ev)
	}
	if ev.Session != "session-1" || ev.Origin == "" {
		t.Fatalf("event not stamped: %+v", ev)
	}

	hub.Notify(notice.Notice{Kind: notice.KindFixFailure, Code: "timeout", Message: "The request to get user location timed out."})
	if ev := recv(t, c); ev.Type != EventNotice || ev.Notice == nil || ev.Notice.Code != "timeout" {
		t.Fatalf("event=%+v", ev)
	}

	hub.Cleared()
	if ev := recv(t, c); ev.Type != EventClear {
		t.Fatalf("event=%+v", ev)
	}
}

func TestHubUnregisterCloses(t *testing.T) {
	hub := NewHub(nil, "", "session-2")
	c := hub.Register()
	if hub.ClientCount() != 1 {
		t.Fatalf("clients=%d", hub.ClientCount())
	}
	hub.Unregister(c)
	hub.Unregister(c)
	if _, ok := <-c.Send; ok {
		t.Fatalf("expected channel closed")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("clients=%d", hub.ClientCount())
	}
}

func TestHubSlowClientDropsEvents(t *testing.T) {
	hub := NewHub(nil, "", "s")
	c := hub.Register()
	defer hub.Unregister(c)
	for i := 0; i < cap(c.Send)+10; i++ {
		hub.Cleared()
	}
	if len(c.Send) != cap(c.Send) {
		t.Fatalf("queued=%d", len(c.Send))
	}
}

func TestHubRedisPublishesOwnSession(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "loctrack:session-a:events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	hub := NewHub(rdb, "loctrack", "session-a")
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer hub.Close()
	if hub.Channel() != "loctrack:session-a:events" {
		t.Fatalf("channel=%q", hub.Channel())
	}

	hub.Cleared()

	select {
	case msg := <-sub.Channel():
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != EventClear || ev.Session != "session-a" || ev.Origin == "" {
			t.Fatalf("published event=%+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for redis event")
	}
}

func TestHubDoesNotRelayPeerEvents(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	a := NewHub(rdb, "loctrack", "session-a")
	b := NewHub(rdb, "loctrack", "session-b")
	for _, h := range []*Hub{a, b} {
		if err := h.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		defer h.Close()
	}

	ca := a.Register()
	defer a.Unregister(ca)
	cb := b.Register()
	defer b.Unregister(cb)

	a.Cleared()

	if ev := recv(t, ca); ev.Type != EventClear || ev.Session != "session-a" {
		t.Fatalf("local event=%+v", ev)
	}
	// Neither the peer hub nor the publisher itself may see the event again.
	select {
	case msg := <-cb.Send:
		t.Fatalf("peer session received %s", msg)
	case msg := <-ca.Send:
		t.Fatalf("echoed event %s", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestHubRedisStartFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	defer rdb.Close()
	srv.Close()

	hub := NewHub(rdb, "", "s")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hub.Start(ctx); err == nil {
		hub.Close()
		t.Fatalf("expected start error with redis down")
	}
}
