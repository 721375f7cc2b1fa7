package web

import (
	"sync/atomic"
	"time"

	"loctrack/internal/tracker"
)

type Status struct {
	startUnixNano int64
	source        atomic.Value // string
	interval      atomic.Value // string
	providerInfo  atomic.Value // func() any
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.source.Store("")
	s.interval.Store("")
	s.providerInfo.Store(func() any { return nil })
	return s
}

// SetStatic records boot-time facts. info, when non-nil, is polled on every
// snapshot for live provider details (e.g. the gps receiver state).
func (s *Status) SetStatic(source string, interval string, info func() any) {
	if source != "" {
		s.source.Store(source)
	}
	if interval != "" {
		s.interval.Store(interval)
	}
	if info != nil {
		s.providerInfo.Store(info)
	}
}

type StatusSnapshot struct {
	Service   string          `json:"service"`
	NowUTC    string          `json:"now_utc"`
	UptimeSec int64           `json:"uptime_sec"`
	Source    string          `json:"source"`
	Interval  string          `json:"interval"`
	Session   tracker.Summary `json:"session"`
	Clients   int             `json:"stream_clients"`
	Provider  any             `json:"provider,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	return StatusSnapshot{
		Service:   "loctrack",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Source:    s.source.Load().(string),
		Interval:  s.interval.Load().(string),
		Provider:  s.providerInfo.Load().(func() any)(),
	}
}
