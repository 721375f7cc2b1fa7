package table

import (
	"testing"

	"loctrack/internal/tracker"
)

func TestTable_RowsMirrorSamples(t *testing.T) {
	tb := New()
	samples := []tracker.Sample{
		{Timestamp: "2024-01-01 10:00:00", LatDeg: 1.5, LonDeg: 2.5},
		{Timestamp: "2024-01-01 10:00:01", LatDeg: -0.0000001, LonDeg: 151.2093},
	}
	for i, s := range samples {
		tb.SampleAdded(s, samples[:i+1])
	}

	rows := tb.Rows()
	if len(rows) != 2 || tb.Len() != 2 {
		t.Fatalf("rows=%d len=%d", len(rows), tb.Len())
	}
	if rows[0] != (Row{"2024-01-01 10:00:00", "1.5", "2.5"}) {
		t.Fatalf("row0=%v", rows[0])
	}
	if rows[1] != (Row{"2024-01-01 10:00:01", "-1e-7", "151.2093"}) {
		t.Fatalf("row1=%v", rows[1])
	}

	// Rows returns a copy.
	rows[0][0] = "x"
	if tb.Rows()[0][0] != "2024-01-01 10:00:00" {
		t.Fatalf("Rows leaked internal state")
	}

	tb.Cleared()
	if tb.Len() != 0 || len(tb.Rows()) != 0 {
		t.Fatalf("clear left rows")
	}
}

func TestTable_AsSessionView(t *testing.T) {
	tb := New()
	var _ tracker.View = tb

	s := tracker.New(tracker.Config{}, nil, nil)
	defer s.Close()
	s.AddView(tb)
	s.Clear()
	if tb.Len() != 0 {
		t.Fatalf("len=%d", tb.Len())
	}
}
