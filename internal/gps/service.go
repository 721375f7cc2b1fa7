package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	SourceNMEA = "nmea"
	SourceGPSD = "gpsd"
)

// Config controls the streaming GNSS reader.
//
// Source selects how fixes are ingested: "nmea" reads sentences from a serial
// device (auto-detected when Device is empty), "gpsd" watches a gpsd daemon.
type Config struct {
	Enable bool

	Source   string
	GPSDAddr string

	Device string
	Baud   int
}

type Snapshot struct {
	Enabled bool `json:"enabled"`
	Valid   bool `json:"valid"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`

	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
	SpeedMS    *float64 `json:"speed_ms,omitempty"`
	HeadingDeg *float64 `json:"heading_deg,omitempty"`
	AccuracyM  *float64 `json:"accuracy_m,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	FixMode    *int     `json:"fix_mode,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`

	LastFixUTC  string `json:"last_fix_utc,omitempty"`
	// GNSSTimeUTC is the receiver's own clock at the last fix, when reported.
	GNSSTimeUTC string `json:"gnss_time_utc,omitempty"`
	LastError   string `json:"last_error,omitempty"`

	fixAt time.Time
}

// Position converts the latest valid fix to a Position.
func (s Snapshot) Position() Position {
	return Position{
		LatDeg:     s.LatDeg,
		LonDeg:     s.LonDeg,
		AccuracyM:  s.AccuracyM,
		AltitudeM:  s.AltitudeM,
		SpeedMS:    s.SpeedMS,
		HeadingDeg: s.HeadingDeg,
		Time:       s.fixAt,
	}
}

// Service reads a continuous stream of fixes in the background and hands out
// single positions through CurrentPosition.
type Service struct {
	cfg Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu     sync.Mutex
	closer io.Closer
	// fault is reported to callers while the source is unusable.
	fault *PositionError
	// fixSeq counts valid fixes; fixed is closed and replaced on each one.
	fixSeq uint64
	fixed  chan struct{}
}

func New(cfg Config) *Service {
	src := normalizeSource(cfg.Source)
	s := &Service{cfg: cfg, fixed: make(chan struct{})}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Source: src, GPSDAddr: strings.TrimSpace(cfg.GPSDAddr), Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func normalizeSource(src string) string {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		return SourceNMEA
	}
	return src
}

// Available reports whether a receiver is configured. A configured receiver
// that cannot currently deliver fixes still counts; its failures surface as
// PositionErrors.
func (s *Service) Available() bool {
	return s != nil && s.cfg.Enable
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	switch normalizeSource(s.cfg.Source) {
	case SourceGPSD:
		return s.startGPSDLocked(ctx)
	case SourceNMEA:
		return s.startNMEALocked(ctx)
	default:
		return fmt.Errorf("gps source %q not supported", s.cfg.Source)
	}
}

func (s *Service) startNMEALocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.faultLocked(newPositionError(PositionUnavailable, "no /dev/ttyACM* or /dev/ttyUSB* found"))
			return fmt.Errorf("gps auto-detect failed")
		}
	}

	baud := s.cfg.Baud
	if baud == 0 {
		baud = 9600
	}

	f, err := openSerial(device, baud)
	if err != nil {
		code := PositionUnavailable
		if errors.Is(err, os.ErrPermission) {
			code = PermissionDenied
		}
		s.faultLocked(newPositionError(code, "open %s: %v", device, err))
		return fmt.Errorf("gps open failed device=%s baud=%d: %w", device, baud, err)
	}
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = f.Close()
		}()

		log.Printf("gps enabled device=%s baud=%d", device, baud)

		reader := bufio.NewScanner(f)
		// NMEA sentences are typically < 82 chars.
		reader.Buffer(make([]byte, 0, 256), 4096)

		st := nmeaState{device: device, baud: baud}

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			if !reader.Scan() {
				err := reader.Err()
				if err == nil {
					err = io.EOF
				}
				s.setFault(newPositionError(PositionUnavailable, "read stopped: %v", err))
				return
			}

			line := strings.TrimSpace(reader.Text())
			if !strings.HasPrefix(line, "$") {
				continue
			}

			sent, perr := parseNMEASentence(line)
			if perr != nil {
				s.setError(perr.Error())
				continue
			}

			if st.apply(time.Now().UTC(), sent) {
				s.publishFix(st.snapshot())
			}
		}
	}()

	s.last.Store(Snapshot{Enabled: true, Source: SourceNMEA, Device: device, Baud: baud})
	return nil
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Printf("gps enabled source=gpsd addr=%s", addr)
		st := newGPSDState(addr)
		backoff := 250 * time.Millisecond
		maxBackoff := 10 * time.Second

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setFault(newPositionError(PositionUnavailable, "gpsd dial failed addr=%s: %v", addr, err))
				select {
				case <-childCtx.Done():
					return
				case <-time.After(min(backoff, maxBackoff)):
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}

			backoff = 250 * time.Millisecond

			s.mu.Lock()
			s.closer = conn
			s.fault = nil
			s.mu.Unlock()

			s.watchGPSD(childCtx, conn, st)
		}
	}()

	s.last.Store(Snapshot{Enabled: true, Source: SourceGPSD, GPSDAddr: addr, Device: SourceGPSD})
	return nil
}

func (s *Service) watchGPSD(ctx context.Context, conn io.ReadWriteCloser, st *gpsdState) {
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte(gpsdWatchCommand)); err != nil {
		s.setFault(newPositionError(PositionUnavailable, "gpsd watch failed: %v", err))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			s.setFault(newPositionError(PositionUnavailable, "gpsd read stopped: %v", err))
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fixed, perr := st.applyLine(time.Now().UTC(), line)
		if perr != nil {
			s.setError(perr.Error())
			continue
		}
		if fixed {
			s.publishFix(st.snapshot())
		}
	}
}

// CurrentPosition waits for the next valid fix, or returns a cached one when
// opts.MaximumAge allows it.
func (s *Service) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	if !s.Available() {
		return Position{}, newPositionError(PositionUnavailable, "gps disabled")
	}

	s.mu.Lock()
	fault := s.fault
	startSeq := s.fixSeq
	s.mu.Unlock()
	if fault != nil {
		return Position{}, fault
	}

	if opts.MaximumAge > 0 {
		snap := s.Snapshot()
		if snap.Valid && !snap.fixAt.IsZero() && time.Since(snap.fixAt) <= opts.MaximumAge {
			return snap.Position(), nil
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	for {
		s.mu.Lock()
		seq, fixed, fault := s.fixSeq, s.fixed, s.fault
		s.mu.Unlock()

		if seq > startSeq {
			return s.Snapshot().Position(), nil
		}
		if fault != nil {
			return Position{}, fault
		}

		select {
		case <-fixed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Position{}, newPositionError(Timeout, "no fix within %s", opts.Timeout)
			}
			return Position{}, ctx.Err()
		}
	}
}

// publishFix stores a valid snapshot and wakes every waiting CurrentPosition.
func (s *Service) publishFix(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.LastError = s.Snapshot().LastError
	s.last.Store(snap)
	s.fault = nil
	s.fixSeq++
	close(s.fixed)
	s.fixed = make(chan struct{})
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (s *Service) setFault(pe *PositionError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faultLocked(pe)
}

// faultLocked also wakes waiters so they observe the failure immediately.
func (s *Service) faultLocked(pe *PositionError) {
	s.fault = pe
	s.setErrorLocked(pe.Error())
	close(s.fixed)
	s.fixed = make(chan struct{})
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	// Transient parse issues don't flip validity.
	s.last.Store(cur)
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func floatPtr(v float64) *float64 { return &v }
