package upload

import (
	"math"
	"sync"
)

// Progress is one measurable advance of a transfer. Percent is -1 while the
// total is unknown, in which case the transfer is "in progress" rather than
// at a percentage.
type Progress struct {
	Loaded  int64
	Total   int64
	Percent int
}

// ProgressFunc receives progress events. The emitted Percent sequence is
// non-decreasing and bounded in [0,100] for any known total.
type ProgressFunc func(p Progress)

// Percent converts a byte counter pair to a whole percentage,
// round(min(1, loaded/total) * 100). A non-positive total yields -1.
func Percent(loaded, total int64) int {
	if total <= 0 {
		return -1
	}
	return int(math.Round(math.Min(1, float64(loaded)/float64(total)) * 100))
}

// tracker accumulates byte counts from concurrent part uploads and emits
// progress events one at a time. Percentages never decrease even when part
// completions race each other.
type tracker struct {
	mu     sync.Mutex
	total  int64
	loaded int64
	last   int
	emit   ProgressFunc
}

func newTracker(total int64, emit ProgressFunc) *tracker {
	return &tracker{total: total, last: -1, emit: emit}
}

func (t *tracker) add(n int64) {
	if t.emit == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.loaded += n
	pct := Percent(t.loaded, t.total)
	if pct >= 0 && pct < t.last {
		pct = t.last
	}
	t.last = pct
	t.emit(Progress{Loaded: t.loaded, Total: t.total, Percent: pct})
}
