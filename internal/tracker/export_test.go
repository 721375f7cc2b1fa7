package tracker

import (
	"math"
	"testing"
)

func TestEncodeCSV(t *testing.T) {
	store := []Sample{
		{Timestamp: "2024-01-01 10:00:00", LatDeg: 1.5, LonDeg: 2.5},
		{Timestamp: "2024-01-01 10:00:01", LatDeg: 1.6, LonDeg: 2.6},
	}
	want := "Timestamp,Latitude,Longitude\n2024-01-01 10:00:00,1.5,2.5\n2024-01-01 10:00:01,1.6,2.6"
	if got := EncodeCSV(store); got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestEncodeCSV_EmptyIsHeaderOnly(t *testing.T) {
	if got := EncodeCSV(nil); got != "Timestamp,Latitude,Longitude" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeCSV_NegativeZeroOnEquator(t *testing.T) {
	store := []Sample{{Timestamp: "2024-01-01 10:00:00", LatDeg: math.Copysign(0, -1), LonDeg: math.Copysign(0, -1)}}
	want := "Timestamp,Latitude,Longitude\n2024-01-01 10:00:00,0,0"
	if got := EncodeCSV(store); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormatCoord(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
		{1.5, "1.5"},
		{-122.4194, "-122.4194"},
		{45, "45"},
		{37.774929, "37.774929"},
		{0.000001, "0.000001"},
		{0.0000001, "1e-7"},
		{-0.00000012, "-1.2e-7"},
		{1e21, "1e+21"},
		{123456789012345680000, "123456789012345680000"},
	}
	for _, tc := range cases {
		if got := FormatCoord(tc.in); got != tc.want {
			t.Fatalf("FormatCoord(%v)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestDataURI(t *testing.T) {
	cases := []struct {
		csv  string
		want string
	}{
		{
			csv:  "Timestamp,Latitude,Longitude",
			want: "data:text/csv;charset=utf-8,Timestamp,Latitude,Longitude",
		},
		{
			csv:  "Timestamp,Latitude,Longitude\n2024-01-01 10:00:00,1.5,2.5",
			want: "data:text/csv;charset=utf-8,Timestamp,Latitude,Longitude%0A2024-01-01%2010:00:00,1.5,2.5",
		},
		{csv: "100%", want: "data:text/csv;charset=utf-8,100%25"},
		{csv: "1/1/2024, 10:00:00 AM", want: "data:text/csv;charset=utf-8,1/1/2024,%2010:00:00%20AM"},
		{csv: "Zürich", want: "data:text/csv;charset=utf-8,Z%C3%BCrich"},
		{csv: "a\"b<c>", want: "data:text/csv;charset=utf-8,a%22b%3Cc%3E"},
		{csv: "-_.!~*'()#$&+=?@", want: "data:text/csv;charset=utf-8,-_.!~*'()#$&+=?@"},
	}
	for _, tc := range cases {
		if got := DataURI(tc.csv); got != tc.want {
			t.Fatalf("DataURI(%q)=%q want %q", tc.csv, got, tc.want)
		}
	}
}
