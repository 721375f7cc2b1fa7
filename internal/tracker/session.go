// Package tracker owns a location tracking session: the sampling loop, the
// sample store, map handles and CSV export.
package tracker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"loctrack/internal/gps"
	"loctrack/internal/mapview"
	"loctrack/internal/notice"
	"loctrack/internal/observability"
)

var (
	// ErrUnavailable means no location provider is present.
	ErrUnavailable = errors.New("tracker: location provider unavailable")
	// ErrStale means a fix completed after the session was stopped or cleared
	// and was discarded.
	ErrStale  = errors.New("tracker: fix discarded after stop or clear")
	ErrClosed = errors.New("tracker: session closed")
)

const unavailableMessage = "Geolocation is not supported by this provider."

type Config struct {
	// ID names the session; empty gets a random UUID.
	ID              string
	Interval        time.Duration
	TimestampLayout string
	// Location renders timestamps; nil means time.Local.
	Location *time.Location
	Fix      gps.Options
	Map      mapview.Options
	// Now overrides the wall clock in tests.
	Now func() time.Time
}

type Session struct {
	ID string

	cfg      Config
	provider gps.Provider
	notifier notice.Notifier

	mu       sync.Mutex
	samples  []Sample
	views    []View
	tracking bool
	closed   bool

	// gen advances on every Stop and Clear. A fix requested under an older
	// generation is dropped when it completes, and genCtx is canceled so the
	// provider can abandon it early.
	gen        uint64
	genCtx     context.Context
	genCancel  context.CancelFunc
	loopCancel context.CancelFunc

	m       *mapview.Map
	path    *mapview.Polyline
	markers []*mapview.Marker

	wg sync.WaitGroup
}

func New(cfg Config, provider gps.Provider, notifier notice.Notifier) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.TimestampLayout == "" {
		cfg.TimestampLayout = DefaultTimestampLayout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	s := &Session{
		ID:       cfg.ID,
		cfg:      cfg,
		provider: provider,
		notifier: notifier,
	}
	s.genCtx, s.genCancel = context.WithCancel(context.Background())
	return s
}

// AddView registers v. Views added later do not see earlier samples.
func (s *Session) AddView(v View) {
	if v == nil {
		return
	}
	s.mu.Lock()
	s.views = append(s.views, v)
	s.mu.Unlock()
}

func (s *Session) available() bool {
	return s.provider != nil && s.provider.Available()
}

func (s *Session) notifyUnavailable() {
	observability.UnavailableNotices.Inc()
	s.post(notice.Notice{Kind: notice.KindUnavailable, Message: unavailableMessage})
}

func (s *Session) post(n notice.Notice) {
	if s.notifier != nil {
		s.notifier.Notify(n)
	}
}

// Start arms the sampling loop. It is a no-op while already armed. ctx bounds
// the loop's lifetime in addition to Stop and Clear.
func (s *Session) Start(ctx context.Context) error {
	if !s.available() {
		s.notifyUnavailable()
		return ErrUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.tracking {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.tracking = true
	observability.Tracking.Set(1)

	s.wg.Add(1)
	go s.loop(loopCtx, s.gen)
	log.Printf("tracking started session=%s interval=%s", s.ID, s.cfg.Interval)
	return nil
}

// Stop disarms the loop and abandons in-flight fixes. Safe when not armed.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLocked() {
		log.Printf("tracking stopped session=%s samples=%d", s.ID, len(s.samples))
	}
}

func (s *Session) stopLocked() bool {
	if !s.tracking {
		return false
	}
	s.tracking = false
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	s.bumpLocked()
	observability.Tracking.Set(0)
	return true
}

func (s *Session) bumpLocked() {
	s.gen++
	s.genCancel()
	s.genCtx, s.genCancel = context.WithCancel(context.Background())
}

func (s *Session) IsTracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

func (s *Session) loop(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			// Parent context ended without Stop: disarm so Start can rearm.
			s.mu.Lock()
			if s.tracking && s.gen == gen {
				s.stopLocked()
				log.Printf("tracking ended session=%s: %v", s.ID, ctx.Err())
			}
			s.mu.Unlock()
			return
		case <-t.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_, _ = s.acquire(ctx, gen)
			}()
		}
	}
}

// GetLocation requests a single fix and waits for it. On success the sample
// has already been ingested. A Stop or Clear issued while waiting discards
// the fix and returns ErrStale. If ctx ends first, ctx's error is returned
// and no notice is posted.
func (s *Session) GetLocation(ctx context.Context) (Sample, error) {
	if !s.available() {
		s.notifyUnavailable()
		return Sample{}, ErrUnavailable
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Sample{}, ErrClosed
	}
	gen, genCtx := s.gen, s.genCtx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(genCtx, cancel)
	defer stop()

	return s.acquire(ctx, gen)
}

func (s *Session) acquire(ctx context.Context, gen uint64) (Sample, error) {
	observability.FixRequests.Inc()
	start := time.Now()
	pos, err := s.provider.CurrentPosition(ctx, s.cfg.Fix)
	observability.ObserveFixLatency(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.closed {
		observability.FixesDiscarded.Inc()
		return Sample{}, ErrStale
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// The requester went away; the provider did not fail.
		observability.FixesAbandoned.Inc()
		return Sample{}, err
	}
	if err != nil {
		code := gps.Classify(err)
		observability.FixFailures.WithLabelValues(code.String()).Inc()
		s.post(notice.Notice{Kind: notice.KindFixFailure, Code: code.String(), Message: code.Notice()})
		return Sample{}, err
	}
	return s.ingestLocked(pos), nil
}

func (s *Session) ingestLocked(pos gps.Position) Sample {
	now := s.cfg.Now()
	smp := Sample{
		Timestamp:  now.In(s.cfg.Location).Format(s.cfg.TimestampLayout),
		LatDeg:     pos.LatDeg,
		LonDeg:     pos.LonDeg,
		CapturedAt: now,
	}

	s.samples = append(s.samples, smp)
	observability.SamplesRecorded.Inc()
	observability.SamplesStored.Set(float64(len(s.samples)))

	for _, v := range s.views {
		v.SampleAdded(smp, s.samples)
	}

	if s.m != nil {
		s.redrawPathLocked()
		s.markers = append(s.markers, s.m.AddMarker(mapview.LatLon(smp.LatDeg, smp.LonDeg)))
	}
	return smp
}

// redrawPathLocked replaces the path with one through every sample. Fewer
// than two samples leave no path.
func (s *Session) redrawPathLocked() {
	if len(s.samples) < 2 {
		return
	}
	s.m.RemovePolyline(s.path)
	s.path = s.m.AddPolyline(s.pointsLocked())
}

func (s *Session) pointsLocked() []orb.Point {
	pts := make([]orb.Point, 0, len(s.samples))
	for _, smp := range s.samples {
		pts = append(pts, mapview.LatLon(smp.LatDeg, smp.LonDeg))
	}
	return pts
}

// DisplayMap creates the map on first use and fits the viewport to the
// recorded samples. A new map draws the path and one marker per sample
// already in the store.
func (s *Session) DisplayMap() mapview.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m == nil {
		s.m = mapview.New(s.cfg.Map)
		s.redrawPathLocked()
		for _, smp := range s.samples {
			s.markers = append(s.markers, s.m.AddMarker(mapview.LatLon(smp.LatDeg, smp.LonDeg)))
		}
		log.Printf("map created session=%s samples=%d", s.ID, len(s.samples))
	}
	if len(s.samples) > 0 {
		s.m.FitBounds(mapview.BoundOf(s.pointsLocked()))
	}
	return s.m.State()
}

// MapState reports the current map, or false when none exists.
func (s *Session) MapState() (mapview.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return mapview.State{}, false
	}
	return s.m.State(), true
}

// Clear stops tracking, abandons in-flight fixes, empties the store and
// views, and tears the map down. Safe to call repeatedly.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.bumpLocked()

	for _, v := range s.views {
		v.Cleared()
	}
	n := len(s.samples)
	s.samples = nil
	observability.SamplesStored.Set(0)

	if s.m != nil {
		s.m.Remove()
		s.m = nil
		s.path = nil
		s.markers = nil
	}
	log.Printf("session cleared session=%s dropped=%d", s.ID, n)
}

// Samples returns a copy of the store.
func (s *Session) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...)
}

func (s *Session) ExportCSV() string {
	return EncodeCSV(s.Samples())
}

func (s *Session) DataURI() string {
	return DataURI(s.ExportCSV())
}

type Summary struct {
	SessionID   string  `json:"session_id"`
	Tracking    bool    `json:"tracking"`
	Count       int     `json:"count"`
	First       string  `json:"first_timestamp,omitempty"`
	Last        string  `json:"last_timestamp,omitempty"`
	PathLengthM float64 `json:"path_length_m"`
	MapCreated  bool    `json:"map_created"`
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		SessionID:  s.ID,
		Tracking:   s.tracking,
		Count:      len(s.samples),
		MapCreated: s.m != nil,
	}
	if len(s.samples) == 0 {
		return sum
	}
	sum.First = s.samples[0].Timestamp
	sum.Last = s.samples[len(s.samples)-1].Timestamp
	pts := s.pointsLocked()
	for i := 1; i < len(pts); i++ {
		sum.PathLengthM += geo.DistanceHaversine(pts[i-1], pts[i])
	}
	return sum
}

// Close stops tracking and waits for in-flight fixes to return.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.stopLocked()
	s.closed = true
	s.genCancel()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
