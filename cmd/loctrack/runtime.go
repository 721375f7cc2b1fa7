package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"loctrack/internal/config"
	"loctrack/internal/gps"
	"loctrack/internal/mapview"
	"loctrack/internal/notice"
	"loctrack/internal/sim"
	"loctrack/internal/stream"
	"loctrack/internal/table"
	"loctrack/internal/tracker"
	"loctrack/internal/web"
)

type runtime struct {
	cfg config.Config

	provider      gps.Provider
	providerInfo  func() any
	closeProvider func()

	session *tracker.Session
	table   *table.Table
	notices *notice.Board
	hub     *stream.Hub
	rdb     *redis.Client
	status  *web.Status
}

func newRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	r := &runtime{cfg: cfg, status: web.NewStatus()}

	if err := r.initProvider(ctx); err != nil {
		return nil, err
	}

	r.notices = notice.NewBoard(0)
	r.table = table.New()

	// The hub and the session share one ID so Redis channels name the session.
	id := uuid.NewString()
	r.initRedis(ctx)
	r.hub = stream.NewHub(r.rdb, cfg.Redis.Prefix, id)
	if err := r.hub.Start(ctx); err != nil {
		// Keep running with local streaming only.
		log.Printf("stream redis start failed: %v", err)
	}

	r.session = tracker.New(tracker.Config{
		ID:              id,
		Interval:        cfg.Tracker.Interval,
		TimestampLayout: cfg.Tracker.TimestampLayout,
		Fix: gps.Options{
			HighAccuracy: *cfg.Tracker.HighAccuracy,
			Timeout:      cfg.Tracker.Timeout,
			MaximumAge:   cfg.Tracker.MaximumAge,
		},
		Map: mapview.Options{
			CenterLatDeg: cfg.Map.CenterLatDeg,
			CenterLonDeg: cfg.Map.CenterLonDeg,
			Zoom:         cfg.Map.Zoom,
			PathColor:    cfg.Map.PathColor,
			Tiles: mapview.TileLayer{
				URLTemplate: cfg.Map.TileURL,
				MaxZoom:     cfg.Map.MaxZoom,
				Attribution: cfg.Map.Attribution,
			},
		},
	}, r.provider, notice.Fanout{r.notices, r.hub})

	r.session.AddView(r.table)
	r.session.AddView(r.hub)

	r.status.SetStatic(cfg.Location.Source, cfg.Tracker.Interval.String(), r.providerInfo)
	return r, nil
}

func (r *runtime) initProvider(ctx context.Context) error {
	c := r.cfg
	switch c.Location.Source {
	case config.SourceSim:
		w := &sim.Walker{
			CenterLatDeg: c.Sim.CenterLatDeg,
			CenterLonDeg: c.Sim.CenterLonDeg,
			RadiusM:      c.Sim.RadiusM,
			Period:       c.Sim.Period,
			Latency:      c.Sim.Latency,
			FailEvery:    c.Sim.FailEvery,
			FailCode:     parseErrorCode(c.Sim.FailCode),
		}
		r.provider = w
		r.providerInfo = func() any {
			return map[string]any{
				"center_lat_deg": w.CenterLatDeg,
				"center_lon_deg": w.CenterLonDeg,
				"radius_m":       w.RadiusM,
				"requests":       w.Requests(),
			}
		}
		log.Printf("location source=sim center=%.5f,%.5f radius_m=%.0f", w.CenterLatDeg, w.CenterLonDeg, w.RadiusM)

	case config.SourceGPSD, config.SourceNMEA:
		svc := gps.New(gps.Config{
			Enable:   true,
			Source:   c.Location.Source,
			GPSDAddr: c.Location.GPSDAddr,
			Device:   c.Location.Device,
			Baud:     c.Location.Baud,
		})
		if err := svc.Start(ctx); err != nil {
			// Keep running; fixes fail with the receiver's fault until it recovers.
			log.Printf("gps init failed: %v", err)
		}
		r.provider = svc
		r.providerInfo = func() any { return svc.Snapshot() }
		r.closeProvider = svc.Close

	case config.SourceBrowser:
		bc := gps.BrowserConfig{
			RemoteURL: c.Location.Browser.RemoteURL,
			PageURL:   c.Location.Browser.PageURL,
			Grant:     c.Location.Browser.Grant,
		}
		if o := c.Location.Browser.Override; o != nil {
			bc.Override = &gps.BrowserOverride{LatDeg: o.LatDeg, LonDeg: o.LonDeg, AccuracyM: o.AccuracyM}
		}
		br := gps.NewBrowser(bc)
		if err := br.Start(ctx); err != nil {
			// Available() stays false, so Start/locate post the unavailable notice.
			log.Printf("browser location init failed: %v", err)
		}
		r.provider = br
		r.providerInfo = func() any { return map[string]any{"available": br.Available(), "page_url": bc.PageURL} }
		r.closeProvider = br.Close

	default:
		return fmt.Errorf("unsupported location source %q", c.Location.Source)
	}
	return nil
}

func (r *runtime) initRedis(ctx context.Context) {
	c := r.cfg.Redis
	if !c.Enable {
		return
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis ping failed addr=%s: %v", c.Addr, err)
		_ = rdb.Close()
		return
	}
	log.Printf("redis connected addr=%s db=%d", c.Addr, c.DB)
	r.rdb = rdb
}

func (r *runtime) Handler() http.Handler {
	return web.Handler(web.Deps{
		Session:       r.session,
		Table:         r.table,
		Notices:       r.notices,
		Hub:           r.hub,
		Status:        r.status,
		LocateTimeout: r.cfg.Tracker.Timeout + 5*time.Second,
		Metrics:       *r.cfg.Metrics.Enable,
	})
}

// Close stops the session, waits for in-flight fixes, then releases the
// provider and Redis.
func (r *runtime) Close() {
	if r == nil {
		return
	}
	if r.session != nil {
		_ = r.session.Close()
	}
	if r.hub != nil {
		r.hub.Close()
	}
	if r.closeProvider != nil {
		r.closeProvider()
		r.closeProvider = nil
	}
	if r.rdb != nil {
		_ = r.rdb.Close()
		r.rdb = nil
	}
}

func writeExport(path string, s *tracker.Session) error {
	if err := os.WriteFile(path, []byte(s.ExportCSV()), 0o644); err != nil {
		return fmt.Errorf("write export %s: %w", path, err)
	}
	return nil
}

func parseErrorCode(s string) gps.ErrorCode {
	for _, c := range []gps.ErrorCode{gps.PermissionDenied, gps.PositionUnavailable, gps.Timeout} {
		if c.String() == s {
			return c
		}
	}
	return gps.UnknownError
}
