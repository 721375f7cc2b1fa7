package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	if ctx == nil {
		return d.Dial("tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatchCommand enables JSON streaming reports. scaled=true yields SI
// units (m/s, meters) and degrees.
const gpsdWatchCommand = "?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`

	// Estimated position errors in meters.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
}

type gpsdSat struct {
	Used bool `json:"used"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	HDOP       *float64  `json:"hdop"`
	Satellites []gpsdSat `json:"satellites"`
}

type gpsdState struct {
	addr string

	latDeg float64
	lonDeg float64
	latOK  bool
	lonOK  bool

	altM  float64
	altOK bool

	speedMS float64
	speedOK bool

	headingDeg float64
	headingOK  bool

	mode     int
	modeOK   bool
	satsUsed int
	satsOK   bool
	hdop     float64
	hdopOK   bool

	hAccM  float64
	hAccOK bool

	lastFix time.Time
	valid   bool
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: addr}
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:  true,
		Valid:    s.valid,
		Device:   SourceGPSD,
		Source:   SourceGPSD,
		GPSDAddr: strings.TrimSpace(s.addr),
		LatDeg:   s.latDeg,
		LonDeg:   s.lonDeg,
		fixAt:    s.lastFix,
	}
	if s.altOK {
		out.AltitudeM = floatPtr(s.altM)
	}
	if s.speedOK {
		out.SpeedMS = floatPtr(s.speedMS)
	}
	if s.headingOK {
		out.HeadingDeg = floatPtr(s.headingDeg)
	}
	if s.modeOK {
		v := s.mode
		out.FixMode = &v
	}
	if s.satsOK {
		v := s.satsUsed
		out.Satellites = &v
	}
	if s.hdopOK {
		out.HDOP = floatPtr(s.hdop)
	}
	if s.hAccOK {
		out.AccuracyM = floatPtr(s.hAccM)
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// applyLine reports whether the line produced a new valid fix.
func (s *gpsdState) applyLine(nowUTC time.Time, line string) (bool, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return false, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return s.applyTPV(nowUTC, tpv), nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		s.applySKY(sky)
		return false, nil
	default:
		// VERSION/DEVICES/WATCH and friends.
		return false, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) bool {
	if tpv.Mode != nil {
		s.mode = *tpv.Mode
		s.modeOK = true
	}

	if tpv.Eph != nil {
		s.hAccM = *tpv.Eph
		s.hAccOK = true
	} else if tpv.Epx != nil && tpv.Epy != nil {
		s.hAccM = math.Sqrt((*tpv.Epx)*(*tpv.Epx) + (*tpv.Epy)*(*tpv.Epy))
		s.hAccOK = true
	}

	fixTime := nowUTC
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			fixTime = t.UTC()
		}
	}

	if tpv.Lat != nil {
		s.latDeg = *tpv.Lat
		s.latOK = true
	}
	if tpv.Lon != nil {
		s.lonDeg = *tpv.Lon
		s.lonOK = true
	}
	if tpv.SpeedMS != nil {
		s.speedMS = *tpv.SpeedMS
		s.speedOK = true
	}
	if tpv.Track != nil {
		s.headingDeg = *tpv.Track
		s.headingOK = true
	}

	altM := tpv.AltMSL
	if altM == nil {
		altM = tpv.Alt
	}
	if altM != nil {
		s.altM = *altM
		s.altOK = true
	}

	// mode 2 = 2D fix, 3 = 3D fix.
	if s.modeOK && s.mode >= 2 && s.latOK && s.lonOK {
		s.valid = true
		s.lastFix = fixTime
		return true
	}
	return false
}

func (s *gpsdState) applySKY(sky gpsdSKY) {
	if sky.HDOP != nil {
		s.hdop = *sky.HDOP
		s.hdopOK = true
	}
	if len(sky.Satellites) > 0 {
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.satsUsed = used
		s.satsOK = true
	}
}
