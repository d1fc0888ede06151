package subscribe

import (
	"sync"
	"time"
)

const dropWindow = 60 // seconds

// DropRate tracks processed versus dropped events over a trailing
// 60-second window, bucketed per second.
type DropRate struct {
	mu      sync.Mutex
	buckets [dropWindow]bucket
	now     func() time.Time
}

type bucket struct {
	sec       int64
	processed uint64
	dropped   uint64
}

func NewDropRate() *DropRate {
	return &DropRate{now: time.Now}
}

func (d *DropRate) Processed() { d.observe(false) }
func (d *DropRate) Dropped()   { d.observe(true) }

func (d *DropRate) observe(dropped bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sec := d.now().Unix()
	b := &d.buckets[sec%dropWindow]
	if b.sec != sec {
		*b = bucket{sec: sec}
	}
	if dropped {
		b.dropped++
	} else {
		b.processed++
	}
}

// Ratio returns dropped/(dropped+processed) over the trailing window,
// or 0 when the window is empty.
func (d *DropRate) Ratio() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Unix() - dropWindow
	var processed, dropped uint64
	for _, b := range d.buckets {
		if b.sec > cutoff {
			processed += b.processed
			dropped += b.dropped
		}
	}
	total := processed + dropped
	if total == 0 {
		return 0
	}
	return float64(dropped) / float64(total)
}
