package message

import (
	"sync"
	"time"
)

// DefaultDedupWindow is how long a seen key suppresses re-delivery.
const DefaultDedupWindow = 60 * time.Second

// Deduper suppresses inbound events whose content key was already seen
// within the window. Entries are recorded at first sight and evicted
// lazily on insert; no background goroutine runs.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewDeduper creates a deduper. A non-positive window falls back to
// DefaultDedupWindow.
func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Deduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// ShouldDeliver reports whether a key is new within the window, recording
// it immediately so a near-simultaneous second delivery loses the race.
func (d *Deduper) ShouldDeliver(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.prune(now)

	if first, ok := d.seen[key]; ok && now.Sub(first) < d.window {
		return false
	}
	d.seen[key] = now
	return true
}

// Len returns the number of tracked keys, for tests and debugging.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) prune(now time.Time) {
	for key, first := range d.seen {
		if now.Sub(first) >= d.window {
			delete(d.seen, key)
		}
	}
}
