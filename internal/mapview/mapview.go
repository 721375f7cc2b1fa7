// Package mapview models an interactive slippy map: a tile layer, markers,
// polylines and a viewport. The web page mirrors it with Leaflet.
//
// Coordinates are orb.Points, so X is longitude and Y is latitude.
package mapview

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type TileLayer struct {
	URLTemplate string `json:"url_template"`
	MaxZoom     int    `json:"max_zoom"`
	Attribution string `json:"attribution"`
}

type Options struct {
	CenterLatDeg float64
	CenterLonDeg float64
	Zoom         int
	Tiles        TileLayer
	PathColor    string
}

type Marker struct {
	ID    int
	Point orb.Point
}

type Polyline struct {
	ID    int
	Color string
	Line  orb.LineString
}

// Map is not safe for concurrent use; its owner serializes access.
type Map struct {
	opts Options

	center orb.Point
	zoom   int
	bounds *orb.Bound

	markers   []*Marker
	polylines []*Polyline
	nextID    int
	removed   bool
}

// LatLon builds an orb.Point from latitude/longitude order.
func LatLon(latDeg, lonDeg float64) orb.Point {
	return orb.Point{lonDeg, latDeg}
}

func New(opts Options) *Map {
	if opts.PathColor == "" {
		opts.PathColor = "blue"
	}
	return &Map{
		opts:   opts,
		center: LatLon(opts.CenterLatDeg, opts.CenterLonDeg),
		zoom:   opts.Zoom,
	}
}

func (m *Map) AddMarker(p orb.Point) *Marker {
	m.nextID++
	mk := &Marker{ID: m.nextID, Point: p}
	m.markers = append(m.markers, mk)
	return mk
}

func (m *Map) AddPolyline(points []orb.Point) *Polyline {
	m.nextID++
	pl := &Polyline{ID: m.nextID, Color: m.opts.PathColor, Line: append(orb.LineString(nil), points...)}
	m.polylines = append(m.polylines, pl)
	return pl
}

// RemovePolyline drops pl from the map; unknown polylines are ignored.
func (m *Map) RemovePolyline(pl *Polyline) {
	if pl == nil {
		return
	}
	for i, cur := range m.polylines {
		if cur == pl {
			m.polylines = append(m.polylines[:i], m.polylines[i+1:]...)
			return
		}
	}
}

// FitBounds centers the viewport on b at the deepest zoom that still shows
// all of it in a 800x600 viewport.
func (m *Map) FitBounds(b orb.Bound) {
	m.bounds = &b
	m.center = b.Center()
	m.zoom = zoomForBound(b, 800, 600, m.opts.Tiles.MaxZoom)
}

// Remove tears the map down. A removed map keeps no layers.
func (m *Map) Remove() {
	m.markers = nil
	m.polylines = nil
	m.bounds = nil
	m.removed = true
}

func (m *Map) Removed() bool { return m.removed }

func (m *Map) Markers() []*Marker {
	return append([]*Marker(nil), m.markers...)
}

func (m *Map) Polylines() []*Polyline {
	return append([]*Polyline(nil), m.polylines...)
}

// BoundOf returns the bounding box of points.
func BoundOf(points []orb.Point) orb.Bound {
	return orb.MultiPoint(points).Bound()
}

// State is the serializable view of the map. Center and Bounds use Leaflet's
// [lat, lon] order.
type State struct {
	Center       [2]float64                 `json:"center"`
	Zoom         int                        `json:"zoom"`
	Bounds       *[2][2]float64             `json:"bounds,omitempty"`
	Tiles        TileLayer                  `json:"tiles"`
	Markers      int                        `json:"markers"`
	PathVertices int                        `json:"path_vertices"`
	Features     *geojson.FeatureCollection `json:"features"`
}

func (m *Map) State() State {
	st := State{
		Center:   [2]float64{m.center.Lat(), m.center.Lon()},
		Zoom:     m.zoom,
		Tiles:    m.opts.Tiles,
		Markers:  len(m.markers),
		Features: m.GeoJSON(),
	}
	if m.bounds != nil {
		b := *m.bounds
		st.Bounds = &[2][2]float64{{b.Min.Lat(), b.Min.Lon()}, {b.Max.Lat(), b.Max.Lon()}}
	}
	for _, pl := range m.polylines {
		st.PathVertices += len(pl.Line)
	}
	return st
}

// GeoJSON renders polylines as LineStrings and markers as Points.
func (m *Map) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, pl := range m.polylines {
		f := geojson.NewFeature(pl.Line)
		f.Properties["layer"] = "path"
		f.Properties["color"] = pl.Color
		fc.Append(f)
	}
	for i, mk := range m.markers {
		f := geojson.NewFeature(mk.Point)
		f.Properties["layer"] = "marker"
		f.Properties["index"] = i
		fc.Append(f)
	}
	return fc
}

// zoomForBound picks the web-mercator zoom at which b fits in w x h pixels.
func zoomForBound(b orb.Bound, w, h float64, maxZoom int) int {
	if maxZoom <= 0 {
		maxZoom = 19
	}
	lonSpan := b.Max.Lon() - b.Min.Lon()
	ySpan := mercatorY(b.Max.Lat()) - mercatorY(b.Min.Lat())
	if lonSpan <= 0 && ySpan <= 0 {
		return maxZoom
	}

	zoom := float64(maxZoom)
	if lonSpan > 0 {
		zoom = math.Min(zoom, math.Log2(w*360/(256*lonSpan)))
	}
	if ySpan > 0 {
		zoom = math.Min(zoom, math.Log2(h*2*math.Pi/(256*ySpan)))
	}
	if zoom < 0 {
		return 0
	}
	return int(math.Floor(zoom))
}

func mercatorY(latDeg float64) float64 {
	lat := math.Max(-85.05112878, math.Min(85.05112878, latDeg)) * math.Pi / 180
	return math.Log(math.Tan(math.Pi/4 + lat/2))
}
