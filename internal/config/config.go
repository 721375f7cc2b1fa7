package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SourceSim     = "sim"
	SourceGPSD    = "gpsd"
	SourceNMEA    = "nmea"
	SourceBrowser = "browser"
)

type Config struct {
	Tracker  TrackerConfig  `yaml:"tracker"`
	Location LocationConfig `yaml:"location"`
	Sim      SimConfig      `yaml:"sim"`
	Map      MapConfig      `yaml:"map"`
	Web      WebConfig      `yaml:"web"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Redis    RedisConfig    `yaml:"redis"`
}

type TrackerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	TimestampLayout string        `yaml:"timestamp_layout"`
	// HighAccuracy is a pointer so an explicit false survives defaulting.
	HighAccuracy *bool         `yaml:"high_accuracy"`
	Timeout      time.Duration `yaml:"timeout"`
	MaximumAge   time.Duration `yaml:"maximum_age"`
	Autostart    bool          `yaml:"autostart"`
}

type LocationConfig struct {
	Source   string        `yaml:"source"`
	GPSDAddr string        `yaml:"gpsd_addr"`
	Device   string        `yaml:"device"`
	Baud     int           `yaml:"baud"`
	Browser  BrowserConfig `yaml:"browser"`
}

type BrowserConfig struct {
	RemoteURL string          `yaml:"remote_url"`
	PageURL   string          `yaml:"page_url"`
	Grant     bool            `yaml:"grant"`
	Override  *OverrideConfig `yaml:"override"`
}

type OverrideConfig struct {
	LatDeg    float64 `yaml:"lat_deg"`
	LonDeg    float64 `yaml:"lon_deg"`
	AccuracyM float64 `yaml:"accuracy_m"`
}

type SimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	RadiusM      float64       `yaml:"radius_m"`
	Period       time.Duration `yaml:"period"`
	Latency      time.Duration `yaml:"latency"`
	FailEvery    int           `yaml:"fail_every"`
	FailCode     string        `yaml:"fail_code"`
}

type MapConfig struct {
	TileURL      string  `yaml:"tile_url"`
	MaxZoom      int     `yaml:"max_zoom"`
	Attribution  string  `yaml:"attribution"`
	CenterLatDeg float64 `yaml:"center_lat_deg"`
	CenterLonDeg float64 `yaml:"center_lon_deg"`
	Zoom         int     `yaml:"zoom"`
	PathColor    string  `yaml:"path_color"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type MetricsConfig struct {
	// Enable is a pointer so an explicit false survives defaulting.
	Enable *bool `yaml:"enable"`
}

type RedisConfig struct {
	Enable   bool   `yaml:"enable"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates. An empty document is a
// valid configuration.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default is the configuration of an empty file.
func Default() Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (cfg *Config) applyDefaults() error {
	t := &cfg.Tracker
	if t.Interval < 0 {
		return fmt.Errorf("tracker.interval must be > 0")
	}
	if t.Interval == 0 {
		t.Interval = 1 * time.Second
	}
	if strings.TrimSpace(t.TimestampLayout) == "" {
		t.TimestampLayout = "2006-01-02 15:04:05"
	}
	if t.HighAccuracy == nil {
		v := true
		t.HighAccuracy = &v
	}
	if t.Timeout < 0 {
		return fmt.Errorf("tracker.timeout must be >= 0")
	}
	if t.Timeout == 0 {
		t.Timeout = 10 * time.Second
	}
	if t.MaximumAge < 0 {
		return fmt.Errorf("tracker.maximum_age must be >= 0")
	}

	l := &cfg.Location
	l.Source = strings.ToLower(strings.TrimSpace(l.Source))
	if l.Source == "" {
		l.Source = SourceSim
	}
	switch l.Source {
	case SourceSim:
	case SourceGPSD:
		if strings.TrimSpace(l.GPSDAddr) == "" {
			l.GPSDAddr = "127.0.0.1:2947"
		}
	case SourceNMEA:
		if l.Baud < 0 {
			return fmt.Errorf("location.baud must be > 0")
		}
		if l.Baud == 0 {
			l.Baud = 9600
		}
	case SourceBrowser:
		if strings.TrimSpace(l.Browser.PageURL) == "" {
			l.Browser.PageURL = "about:blank"
		}
		if o := l.Browser.Override; o != nil {
			if o.LatDeg < -90 || o.LatDeg > 90 {
				return fmt.Errorf("location.browser.override.lat_deg must be within [-90, 90]")
			}
			if o.LonDeg < -180 || o.LonDeg > 180 {
				return fmt.Errorf("location.browser.override.lon_deg must be within [-180, 180]")
			}
			if o.AccuracyM <= 0 {
				o.AccuracyM = 10
			}
		}
	default:
		return fmt.Errorf("location.source must be one of sim, gpsd, nmea, browser")
	}

	s := &cfg.Sim
	if s.RadiusM <= 0 {
		s.RadiusM = 250
	}
	if s.Period <= 0 {
		s.Period = 120 * time.Second
	}
	if s.Latency < 0 {
		return fmt.Errorf("sim.latency must be >= 0")
	}
	if s.FailEvery < 0 {
		return fmt.Errorf("sim.fail_every must be >= 0")
	}
	s.FailCode = strings.ToLower(strings.TrimSpace(s.FailCode))
	if s.FailCode == "" {
		s.FailCode = "position_unavailable"
	}
	switch s.FailCode {
	case "permission_denied", "position_unavailable", "timeout", "unknown":
	default:
		return fmt.Errorf("sim.fail_code must be one of permission_denied, position_unavailable, timeout, unknown")
	}

	m := &cfg.Map
	if strings.TrimSpace(m.TileURL) == "" {
		m.TileURL = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	}
	if m.MaxZoom <= 0 {
		m.MaxZoom = 19
	}
	if m.Attribution == "" {
		m.Attribution = "© OpenStreetMap"
	}
	if m.Zoom <= 0 {
		m.Zoom = 13
	}
	if m.Zoom > m.MaxZoom {
		return fmt.Errorf("map.zoom must be <= map.max_zoom")
	}
	if m.PathColor == "" {
		m.PathColor = "blue"
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.Metrics.Enable == nil {
		v := true
		cfg.Metrics.Enable = &v
	}

	r := &cfg.Redis
	if r.Enable && strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("redis.addr is required when redis.enable is true")
	}
	if r.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0")
	}
	if strings.TrimSpace(r.Prefix) == "" {
		r.Prefix = "loctrack"
	}
	return nil
}
