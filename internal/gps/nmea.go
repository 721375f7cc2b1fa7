package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	knotsPerMS = 1.9438444924406

	// uereM is the user equivalent range error assumed when turning HDOP into
	// a horizontal accuracy radius.
	uereM = 5.0
)

type nmeaSentence struct {
	Type string
	// Fields is the comma-split payload without '$' and checksum. Fields[0]
	// is the talker+type word.
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	payload, ck, ok := strings.Cut(line[1:], "*")
	if !ok {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	if err := verifyChecksum(payload, strings.TrimSpace(ck)); err != nil {
		return nmeaSentence{}, err
	}

	parts := strings.Split(payload, ",")
	word := parts[0]
	if len(word) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type %q", word)
	}
	// GP, GN, GL and friends share sentence layouts.
	return nmeaSentence{Type: strings.ToUpper(word[len(word)-3:]), Fields: parts}, nil
}

func verifyChecksum(payload, ck string) error {
	if len(ck) < 2 {
		return fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil {
		return fmt.Errorf("nmea: bad checksum %q", ck[:2])
	}
	var got byte
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return fmt.Errorf("nmea: checksum mismatch got=%02X want=%02X", got, want[0])
	}
	return nil
}

// optFloat is a reading that may be absent from the stream so far.
type optFloat struct {
	v  float64
	ok bool
}

func (o *optFloat) set(v float64) { o.v, o.ok = v, true }

func (o optFloat) ptr() *float64 {
	if !o.ok {
		return nil
	}
	return floatPtr(o.v)
}

// nmeaState folds sentences into the latest position. Talkers interleave
// RMC, GGA and GLL, so each sentence only updates what it carries.
type nmeaState struct {
	device string
	baud   int

	lat, lon optFloat
	speedMS  optFloat
	heading  optFloat
	altM     optFloat
	hdop     optFloat

	fixQuality *int
	satellites *int

	// date comes from RMC; time-of-day from any positional sentence.
	date    time.Time
	gnssUTC time.Time

	lastFix time.Time
	valid   bool
}

type sentenceHandler func(s *nmeaState, nowUTC time.Time, f []string) bool

var nmeaHandlers = map[string]sentenceHandler{
	"RMC": (*nmeaState).applyRMC,
	"GGA": (*nmeaState).applyGGA,
	"GLL": (*nmeaState).applyGLL,
}

// apply folds sent into the state and reports whether it completed a fix.
func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) bool {
	h, ok := nmeaHandlers[sent.Type]
	if !ok {
		return false
	}
	return h(s, nowUTC, sent.Fields)
}

// fixAt records a completed fix when both coordinates are known. nowUTC is
// the host receive time; waiters compare freshness against the host clock.
func (s *nmeaState) fixAt(nowUTC time.Time, hhmmss string) bool {
	if !s.lat.ok || !s.lon.ok {
		return false
	}
	if tod, ok := parseNMEATime(hhmmss); ok {
		day := s.date
		if day.IsZero() {
			day = nowUTC.Truncate(24 * time.Hour)
		}
		s.gnssUTC = day.Add(tod)
	}
	s.lastFix = nowUTC
	s.valid = true
	return true
}

func (s *nmeaState) setLatLon(latV, latH, lonV, lonH string) {
	if lat, ok := parseNMEALatLon(latV, latH); ok && math.Abs(lat) <= 90 {
		s.lat.set(lat)
	}
	if lon, ok := parseNMEALatLon(lonV, lonH); ok && math.Abs(lon) <= 180 {
		s.lon.set(lon)
	}
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:    true,
		Valid:      s.valid,
		Source:     SourceNMEA,
		Device:     s.device,
		Baud:       s.baud,
		LatDeg:     s.lat.v,
		LonDeg:     s.lon.v,
		AltitudeM:  s.altM.ptr(),
		SpeedMS:    s.speedMS.ptr(),
		HeadingDeg: s.heading.ptr(),
		HDOP:       s.hdop.ptr(),
		FixQuality: s.fixQuality,
		Satellites: s.satellites,
		fixAt:      s.lastFix,
	}
	if s.hdop.ok {
		out.AccuracyM = floatPtr(s.hdop.v * uereM)
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	if !s.gnssUTC.IsZero() {
		out.GNSSTimeUTC = s.gnssUTC.Format(time.RFC3339Nano)
	}
	return out
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3,4: latitude ddmm.mmmm, N/S
//	5,6: longitude dddmm.mmmm, E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) bool {
	if len(f) < 10 || strings.TrimSpace(f[2]) != "A" {
		return false
	}
	s.setLatLon(f[3], f[4], f[5], f[6])
	if kt, ok := parseFloat(f[7]); ok {
		s.speedMS.set(kt / knotsPerMS)
	}
	if trk, ok := parseFloat(f[8]); ok {
		s.heading.set(math.Mod(trk+360.0, 360.0))
	}
	if d, err := time.Parse("020106", strings.TrimSpace(f[9])); err == nil {
		s.date = d
	}
	return s.fixAt(nowUTC, f[1])
}

// GGA: Global Positioning System Fix Data
//
//	1: time
//	2,3: latitude, N/S
//	4,5: longitude, E/W
//	6: fix quality (0=invalid)
//	7: satellites in use
//	8: HDOP
//	9: altitude (meters)
func (s *nmeaState) applyGGA(nowUTC time.Time, f []string) bool {
	if len(f) < 11 {
		return false
	}
	q, err := strconv.Atoi(strings.TrimSpace(f[6]))
	if err != nil || q == 0 {
		return false
	}
	s.fixQuality = &q
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.satellites = &sats
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.hdop.set(hdop)
	}
	s.setLatLon(f[2], f[3], f[4], f[5])
	if alt, ok := parseFloat(f[9]); ok {
		s.altM.set(alt)
	}
	return s.fixAt(nowUTC, f[1])
}

// GLL: Geographic Position, Latitude/Longitude
//
//	1,2: latitude, N/S
//	3,4: longitude, E/W
//	5: time
//	6: status (A=active, V=void)
func (s *nmeaState) applyGLL(nowUTC time.Time, f []string) bool {
	if len(f) < 7 || strings.TrimSpace(f[6]) != "A" {
		return false
	}
	s.setLatLon(f[1], f[2], f[3], f[4])
	return s.fixAt(nowUTC, f[5])
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEATime parses hhmmss[.sss] into an offset from midnight.
func parseNMEATime(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 6 {
		return 0, false
	}
	h, err1 := strconv.Atoi(v[0:2])
	m, err2 := strconv.Atoi(v[2:4])
	sec, err3 := strconv.ParseFloat(v[4:], 64)
	if err1 != nil || err2 != nil || err3 != nil || h > 23 || m > 59 || sec >= 61 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second)), true
}

// parseNMEALatLon parses ddmm.mmmm (latitude) or dddmm.mmmm (longitude)
// plus a hemisphere letter into signed decimal degrees.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two integer digits start the minutes.
	intLen := strings.IndexByte(v, '.')
	if intLen == -1 {
		intLen = len(v)
	}
	if intLen < 3 {
		return 0, false
	}
	deg, err := strconv.Atoi(v[:intLen-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[intLen-2:], 64)
	if err != nil || mins >= 60 {
		return 0, false
	}

	dec := float64(deg) + mins/60.0
	// Keep 0 unsigned on the equator and prime meridian.
	if dec != 0 && (hemi == "S" || hemi == "W") {
		dec = -dec
	}
	return dec, true
}
