package mapview

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
)

func testOptions() Options {
	return Options{
		Zoom: 13,
		Tiles: TileLayer{
			URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			MaxZoom:     19,
			Attribution: "© OpenStreetMap",
		},
	}
}

func TestMap_LayersAndRemove(t *testing.T) {
	m := New(testOptions())
	m.AddMarker(LatLon(1.5, 2.5))
	m.AddMarker(LatLon(1.6, 2.6))
	pl := m.AddPolyline([]orb.Point{LatLon(1.5, 2.5), LatLon(1.6, 2.6)})

	st := m.State()
	if st.Markers != 2 || st.PathVertices != 2 {
		t.Fatalf("state=%+v", st)
	}
	if st.Center != [2]float64{0, 0} || st.Zoom != 13 {
		t.Fatalf("default view=%v z%d", st.Center, st.Zoom)
	}

	m.RemovePolyline(pl)
	m.RemovePolyline(pl)
	if len(m.Polylines()) != 0 {
		t.Fatalf("polyline not removed")
	}

	m.Remove()
	if !m.Removed() || len(m.Markers()) != 0 {
		t.Fatalf("remove left layers behind")
	}
}

func TestMap_FitBounds(t *testing.T) {
	m := New(testOptions())
	pts := []orb.Point{LatLon(1.5, 2.5), LatLon(1.6, 2.6)}
	m.FitBounds(BoundOf(pts))

	st := m.State()
	if st.Bounds == nil {
		t.Fatalf("expected bounds")
	}
	if st.Bounds[0] != [2]float64{1.5, 2.5} || st.Bounds[1] != [2]float64{1.6, 2.6} {
		t.Fatalf("bounds=%v", *st.Bounds)
	}
	if st.Center[0] < 1.549 || st.Center[0] > 1.551 {
		t.Fatalf("center=%v", st.Center)
	}
	if st.Zoom <= 0 || st.Zoom > 19 {
		t.Fatalf("zoom=%d", st.Zoom)
	}
}

func TestMap_FitBoundsSinglePointUsesMaxZoom(t *testing.T) {
	m := New(testOptions())
	m.FitBounds(BoundOf([]orb.Point{LatLon(10, 20)}))
	if st := m.State(); st.Zoom != 19 {
		t.Fatalf("zoom=%d", st.Zoom)
	}
}

func TestMap_GeoJSON(t *testing.T) {
	m := New(testOptions())
	m.AddPolyline([]orb.Point{LatLon(1.5, 2.5), LatLon(1.6, 2.6)})
	m.AddMarker(LatLon(1.6, 2.6))

	b, err := json.Marshal(m.GeoJSON())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("fc=%s", b)
	}
	if fc.Features[0].Geometry.Type != "LineString" || fc.Features[1].Geometry.Type != "Point" {
		t.Fatalf("fc=%s", b)
	}
	// GeoJSON is [lon, lat].
	if string(fc.Features[1].Geometry.Coordinates) != "[2.6,1.6]" {
		t.Fatalf("point coords=%s", fc.Features[1].Geometry.Coordinates)
	}
}
