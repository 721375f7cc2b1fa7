package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const SourceBrowser = "browser"

// BrowserConfig controls the headless Chrome provider.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local headless instance.
	RemoteURL string

	// PageURL is the document geolocation is requested from.
	PageURL string

	// Grant pre-approves the geolocation permission for PageURL's origin.
	// Without it Chrome reports permission denied in headless mode.
	Grant bool

	// Override pins the emulated position, e.g. for demos and CI.
	Override *BrowserOverride
}

type BrowserOverride struct {
	LatDeg    float64
	LonDeg    float64
	AccuracyM float64
}

// Browser asks navigator.geolocation inside a Chrome page for each fix.
type Browser struct {
	cfg BrowserConfig

	mu        sync.Mutex
	lnch      *launcher.Launcher
	browser   *rod.Browser
	page      *rod.Page
	supported bool
}

func NewBrowser(cfg BrowserConfig) *Browser {
	if strings.TrimSpace(cfg.PageURL) == "" {
		cfg.PageURL = "about:blank"
	}
	return &Browser{cfg: cfg}
}

func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page != nil {
		return nil
	}

	wsURL := strings.TrimSpace(b.cfg.RemoteURL)
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		b.lnch = l
		wsURL = u
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		b.cleanupLocked()
		return fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = br

	page, err := br.Page(proto.TargetCreateTarget{URL: b.cfg.PageURL})
	if err != nil {
		b.cleanupLocked()
		return fmt.Errorf("browser: create page: %w", err)
	}
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(loadCtx).WaitLoad(); err != nil {
		log.Printf("browser: wait load %s: %v", b.cfg.PageURL, err)
	}
	b.page = page

	if b.cfg.Grant {
		grant := proto.BrowserGrantPermissions{
			Permissions: []proto.BrowserPermissionType{proto.BrowserPermissionTypeGeolocation},
			Origin:      originOf(b.cfg.PageURL),
		}
		if err := grant.Call(br); err != nil {
			log.Printf("browser: grant geolocation: %v", err)
		}
	}

	if o := b.cfg.Override; o != nil {
		lat, lon, acc := o.LatDeg, o.LonDeg, o.AccuracyM
		if acc <= 0 {
			acc = 1
		}
		override := proto.EmulationSetGeolocationOverride{Latitude: &lat, Longitude: &lon, Accuracy: &acc}
		if err := override.Call(page); err != nil {
			b.cleanupLocked()
			return fmt.Errorf("browser: geolocation override: %w", err)
		}
	}

	res, err := page.Eval(`() => "geolocation" in navigator`)
	if err != nil {
		b.cleanupLocked()
		return fmt.Errorf("browser: check geolocation: %w", err)
	}
	b.supported = res.Value.Bool()
	log.Printf("gps enabled source=browser page=%s supported=%t", b.cfg.PageURL, b.supported)
	return nil
}

func (b *Browser) Available() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page != nil && b.supported
}

// geolocationJS resolves with a JSON string so the result survives the
// DevTools value round-trip unchanged.
const geolocationJS = `(highAccuracy, timeoutMs, maximumAgeMs) => new Promise((resolve) => {
	const opts = {enableHighAccuracy: highAccuracy, maximumAge: maximumAgeMs};
	if (timeoutMs > 0) {
		opts.timeout = timeoutMs;
	}
	navigator.geolocation.getCurrentPosition(
		(p) => resolve(JSON.stringify({
			ok: true,
			lat: p.coords.latitude,
			lon: p.coords.longitude,
			accuracy: p.coords.accuracy,
			altitude: p.coords.altitude,
			speed: p.coords.speed,
			heading: p.coords.heading,
			ts: p.timestamp,
		})),
		(e) => resolve(JSON.stringify({ok: false, code: e.code, message: e.message})),
		opts,
	);
})`

type browserResult struct {
	OK       bool     `json:"ok"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Accuracy *float64 `json:"accuracy"`
	Altitude *float64 `json:"altitude"`
	Speed    *float64 `json:"speed"`
	Heading  *float64 `json:"heading"`
	TS       float64  `json:"ts"`
	Code     int      `json:"code"`
	Message  string   `json:"message"`
}

func (b *Browser) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	b.mu.Lock()
	page := b.page
	b.mu.Unlock()
	if page == nil {
		return Position{}, newPositionError(PositionUnavailable, "browser not started")
	}

	res, err := page.Context(ctx).Eval(geolocationJS, opts.HighAccuracy, opts.Timeout.Milliseconds(), opts.MaximumAge.Milliseconds())
	if err != nil {
		if ctx.Err() != nil {
			return Position{}, ctx.Err()
		}
		return Position{}, newPositionError(UnknownError, "eval: %v", err)
	}
	return decodeBrowserResult(res.Value.Str())
}

func decodeBrowserResult(raw string) (Position, error) {
	var r browserResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Position{}, newPositionError(UnknownError, "decode result: %v", err)
	}
	if !r.OK {
		code := ErrorCode(r.Code)
		switch code {
		case PermissionDenied, PositionUnavailable, Timeout:
		default:
			code = UnknownError
		}
		return Position{}, &PositionError{Code: code, Message: r.Message}
	}
	pos := Position{
		LatDeg:     r.Lat,
		LonDeg:     r.Lon,
		AccuracyM:  r.Accuracy,
		AltitudeM:  r.Altitude,
		SpeedMS:    r.Speed,
		HeadingDeg: r.Heading,
		Time:       time.UnixMilli(int64(r.TS)).UTC(),
	}
	if r.TS == 0 {
		pos.Time = time.Now().UTC()
	}
	return pos, nil
}

func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanupLocked()
}

func (b *Browser) cleanupLocked() {
	if b.page != nil {
		_ = b.page.Close()
		b.page = nil
	}
	if b.browser != nil {
		_ = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
	b.supported = false
}

// originOf returns scheme://host for http(s) URLs and "" (all origins)
// otherwise.
func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
