// Package table mirrors the tracker store as rows of display strings.
package table

import (
	"sync"

	"loctrack/internal/tracker"
)

// Row holds the three cells shown for one sample, in insertion order.
type Row [3]string

// Table is a tracker.View; it also serves concurrent readers.
type Table struct {
	mu   sync.RWMutex
	rows []Row
}

func New() *Table {
	return &Table{}
}

func (t *Table) SampleAdded(s tracker.Sample, _ []tracker.Sample) {
	row := Row{s.Timestamp, tracker.FormatCoord(s.LatDeg), tracker.FormatCoord(s.LonDeg)}
	t.mu.Lock()
	t.rows = append(t.rows, row)
	t.mu.Unlock()
}

func (t *Table) Cleared() {
	t.mu.Lock()
	t.rows = nil
	t.mu.Unlock()
}

func (t *Table) Rows() []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Row(nil), t.rows...)
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}
