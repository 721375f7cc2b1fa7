// Package notice carries user-facing messages: the capability-unavailable
// warning and per-attempt fix failures.
package notice

import (
	"sync"
	"time"
)

type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindFixFailure  Kind = "fix_failure"
)

type Notice struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	TimeUTC string `json:"time_utc"`
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(n Notice)
}

// Fanout forwards each notice to every non-nil Notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(n Notice) {
	for _, dst := range f {
		if dst != nil {
			dst.Notify(n)
		}
	}
}

// Board keeps the most recent notices, dropping the oldest past max.
type Board struct {
	mu      sync.Mutex
	max     int
	items   []Notice
	seq     uint64
	dropped uint64
}

func NewBoard(max int) *Board {
	if max <= 0 {
		max = 200
	}
	return &Board{max: max}
}

func (b *Board) Notify(n Notice) {
	if n.TimeUTC == "" {
		n.TimeUTC = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.items = append(b.items, n)
	if len(b.items) > b.max {
		over := len(b.items) - b.max
		b.items = b.items[over:]
		b.dropped += uint64(over)
	}
}

// Snapshot returns up to tail of the newest notices, oldest first, plus the
// total number ever posted.
func (b *Board) Snapshot(tail int) (items []Notice, total uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tail <= 0 || tail > len(b.items) {
		tail = len(b.items)
	}
	start := len(b.items) - tail
	return append([]Notice(nil), b.items[start:]...), b.seq
}

func (b *Board) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
