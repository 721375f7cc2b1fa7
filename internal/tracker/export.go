package tracker

import (
	"strings"
)

const (
	ExportFileName = "location_data.csv"
	CSVHeader      = "Timestamp,Latitude,Longitude"
	dataURIPrefix  = "data:text/csv;charset=utf-8,"
)

// EncodeCSV renders samples in store order: the header line, then one line
// per sample, joined by "\n" with no trailing newline. An empty store yields
// the bare header.
func EncodeCSV(samples []Sample) string {
	var b strings.Builder
	b.WriteString(CSVHeader)
	for _, s := range samples {
		b.WriteByte('\n')
		b.WriteString(s.Timestamp)
		b.WriteByte(',')
		b.WriteString(FormatCoord(s.LatDeg))
		b.WriteByte(',')
		b.WriteString(FormatCoord(s.LonDeg))
	}
	return b.String()
}

// DataURI wraps csv in a text/csv data URI, escaped like encodeURI.
func DataURI(csv string) string {
	return encodeURI(dataURIPrefix + csv)
}

// encodeURI percent-encodes every byte outside the URI reserved and
// unreserved sets, leaving "%" itself encoded.
func encodeURI(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keepInURI(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func keepInURI(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'();/?:@&=+$,#", c) >= 0
}
