package clocksync

import (
	"math"
	"sort"
)

// sample is one observed input-arrival offset, stamped with the local time it
// was received.
type sample struct {
	local  float64
	offset float32
}

// offsetHistory is a sliding window of offset samples ordered by ascending
// local time.
type offsetHistory struct {
	samples []sample
	period  float64
}

// push appends a sample and drops everything older than the retention period.
func (h *offsetHistory) push(local float64, offset float32) {
	h.samples = append(h.samples, sample{local: local, offset: offset})
	cutoff := local - h.period
	i := 0
	for i < len(h.samples) && h.samples[i].local < cutoff {
		i++
	}
	if i > 0 {
		h.samples = append(h.samples[:0], h.samples[i:]...)
	}
}

// len returns the number of retained samples.
func (h *offsetHistory) len() int { return len(h.samples) }

// percentile returns the pct-quantile of the offsets observed since the given
// local time. Sorting ascending and indexing at floor(N*pct) makes a low pct
// pick out the near-worst offsets while staying robust to jitter outliers.
func (h *offsetHistory) percentile(since float64, pct float64) (float32, bool) {
	var window []float32
	for _, s := range h.samples {
		if s.local >= since {
			window = append(window, s.offset)
		}
	}
	if len(window) == 0 {
		return 0, false
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	idx := int(math.Floor(float64(len(window)) * pct))
	if idx >= len(window) {
		idx = len(window) - 1
	}
	return window[idx], true
}
