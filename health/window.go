package health

import "sync/atomic"

// windowSeconds is the width of the structural-error sliding window in
// one-second buckets.
const windowSeconds = 60

// slidingWindow is a fixed-size ring of per-second atomic counters
// tracking structural errors per second.
type slidingWindow struct {
	lastSec atomic.Int64
	buckets [windowSeconds]atomic.Int64
}

// bump must be called with the owning Monitor's provider lock held; it
// advances the window (zeroing buckets that have scrolled out) and
// increments the bucket for nowSec.
func (w *slidingWindow) bump(nowSec int64) {
	last := w.lastSec.Load()
	if last == 0 {
		w.lastSec.Store(nowSec)
		w.buckets[nowSec%windowSeconds].Add(1)
		return
	}

	advanced := nowSec - last
	if advanced > 0 {
		clear := advanced
		if clear > windowSeconds {
			clear = windowSeconds
		}
		for i := int64(0); i < clear; i++ {
			w.buckets[(last+1+i)%windowSeconds].Store(0)
		}
		w.lastSec.Store(nowSec)
	}
	w.buckets[nowSec%windowSeconds].Add(1)
}

// count returns the total across the window as of nowSec, scrolling
// expired buckets to zero first without incrementing anything.
func (w *slidingWindow) count(nowSec int64) int64 {
	last := w.lastSec.Load()
	if last == 0 {
		return 0
	}
	advanced := nowSec - last
	if advanced > 0 {
		clear := advanced
		if clear > windowSeconds {
			clear = windowSeconds
		}
		for i := int64(0); i < clear; i++ {
			w.buckets[(last+1+i)%windowSeconds].Store(0)
		}
		w.lastSec.Store(nowSec)
	}
	var total int64
	for i := range w.buckets {
		total += w.buckets[i].Load()
	}
	return total
}

// reset zeroes the window entirely — used when a heal cycle reclassifies
// the window's errors as noise.
func (w *slidingWindow) reset() {
	for i := range w.buckets {
		w.buckets[i].Store(0)
	}
}
