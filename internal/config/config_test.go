package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Tracker.Interval != 1*time.Second {
		t.Fatalf("interval=%s want 1s", cfg.Tracker.Interval)
	}
	if cfg.Tracker.TimestampLayout != "2006-01-02 15:04:05" {
		t.Fatalf("layout=%q", cfg.Tracker.TimestampLayout)
	}
	if cfg.Tracker.HighAccuracy == nil || !*cfg.Tracker.HighAccuracy {
		t.Fatalf("high_accuracy should default to true")
	}
	if cfg.Tracker.Timeout != 10*time.Second || cfg.Tracker.MaximumAge != 0 || cfg.Tracker.Autostart {
		t.Fatalf("tracker=%+v", cfg.Tracker)
	}
	if cfg.Location.Source != SourceSim {
		t.Fatalf("source=%q", cfg.Location.Source)
	}
	if cfg.Map.TileURL != "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png" || cfg.Map.MaxZoom != 19 ||
		cfg.Map.Attribution != "© OpenStreetMap" || cfg.Map.Zoom != 13 || cfg.Map.PathColor != "blue" {
		t.Fatalf("map=%+v", cfg.Map)
	}
	if cfg.Map.CenterLatDeg != 0 || cfg.Map.CenterLonDeg != 0 {
		t.Fatalf("center=%v,%v", cfg.Map.CenterLatDeg, cfg.Map.CenterLonDeg)
	}
	if cfg.Web.Listen != ":8080" {
		t.Fatalf("listen=%q", cfg.Web.Listen)
	}
	if cfg.Metrics.Enable == nil || !*cfg.Metrics.Enable {
		t.Fatalf("metrics should default on")
	}
	if cfg.Redis.Enable || cfg.Redis.Prefix != "loctrack" {
		t.Fatalf("redis=%+v", cfg.Redis)
	}
	if cfg.Sim.RadiusM != 250 || cfg.Sim.Period != 120*time.Second || cfg.Sim.FailCode != "position_unavailable" {
		t.Fatalf("sim=%+v", cfg.Sim)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg := Default()
	if cfg.Tracker.Interval != time.Second || cfg.Location.Source != SourceSim {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoad_ExplicitFalseSurvives(t *testing.T) {
	path := writeTempConfig(t, "tracker:\n  high_accuracy: false\nmetrics:\n  enable: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *cfg.Tracker.HighAccuracy || *cfg.Metrics.Enable {
		t.Fatalf("explicit false overwritten")
	}
}

func TestLoad_SourceDefaults(t *testing.T) {
	cases := []struct {
		name  string
		yaml  string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "Gpsd",
			yaml: "location:\n  source: GPSD\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Location.Source != SourceGPSD || cfg.Location.GPSDAddr != "127.0.0.1:2947" {
					t.Fatalf("location=%+v", cfg.Location)
				}
			},
		},
		{
			name: "Nmea",
			yaml: "location:\n  source: nmea\n  device: /dev/ttyACM0\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Location.Baud != 9600 || cfg.Location.Device != "/dev/ttyACM0" {
					t.Fatalf("location=%+v", cfg.Location)
				}
			},
		},
		{
			name: "Browser",
			yaml: "location:\n  source: browser\n  browser:\n    grant: true\n    override:\n      lat_deg: 51.5\n      lon_deg: -0.12\n",
			check: func(t *testing.T, cfg Config) {
				b := cfg.Location.Browser
				if b.PageURL != "about:blank" || !b.Grant || b.Override == nil || b.Override.AccuracyM != 10 {
					t.Fatalf("browser=%+v override=%+v", b, b.Override)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeTempConfig(t, tc.yaml))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"BadSource", "location:\n  source: carrier-pigeon\n", "location.source must be one of sim, gpsd, nmea, browser"},
		{"NegativeInterval", "tracker:\n  interval: -1s\n", "tracker.interval must be > 0"},
		{"NegativeTimeout", "tracker:\n  timeout: -1s\n", "tracker.timeout must be >= 0"},
		{"NegativeMaxAge", "tracker:\n  maximum_age: -1s\n", "tracker.maximum_age must be >= 0"},
		{"NegativeBaud", "location:\n  source: nmea\n  baud: -1\n", "location.baud must be > 0"},
		{"OverrideLat", "location:\n  source: browser\n  browser:\n    override:\n      lat_deg: 91\n", "location.browser.override.lat_deg must be within [-90, 90]"},
		{"OverrideLon", "location:\n  source: browser\n  browser:\n    override:\n      lon_deg: -181\n", "location.browser.override.lon_deg must be within [-180, 180]"},
		{"SimFailCode", "sim:\n  fail_code: meteor\n", "sim.fail_code must be one of permission_denied, position_unavailable, timeout, unknown"},
		{"SimLatency", "sim:\n  latency: -5ms\n", "sim.latency must be >= 0"},
		{"ZoomAboveMax", "map:\n  zoom: 20\n", "map.zoom must be <= map.max_zoom"},
		{"RedisAddr", "redis:\n  enable: true\n", "redis.addr is required when redis.enable is true"},
		{"RedisDB", "redis:\n  db: -2\n", "redis.db must be >= 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "tracker: [\n")); err == nil {
		t.Fatalf("expected yaml error")
	}
}
