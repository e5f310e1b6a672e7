package histogram

import (
	"time"
)

// Bucket is one bin of a histogram. Boundary is the lower edge of the bin
// expressed in the histogram's unit.
type Bucket struct {
	Boundary float64 `json:"boundary"`
	Count    int64   `json:"count"`
}

// Histogram is a bucketed distribution of one measured quantity of a flow.
type Histogram struct {
	Metric   string        `json:"metric"`
	Unit     string        `json:"unit"`
	BinWidth time.Duration `json:"bin_width"`
	Buckets  []Bucket      `json:"buckets"`
}

// Total is the number of samples across all buckets.
func (h Histogram) Total() int64 {
	var n int64
	for _, b := range h.Buckets {
		n += b.Count
	}
	return n
}

// Empty reports whether the histogram carries no samples.
func (h Histogram) Empty() bool {
	return h.Total() == 0
}

// Quantile returns the bucket boundary below which q (0..100) percent of the
// samples fall.
func (h Histogram) Quantile(q float64) float64 {
	total := h.Total()
	if total == 0 {
		return 0
	}
	target := int64(float64(total) * q / 100)
	var seen int64
	for _, b := range h.Buckets {
		seen += b.Count
		if seen > target {
			return b.Boundary
		}
	}
	return h.Buckets[len(h.Buckets)-1].Boundary
}

// Clone returns a deep copy so callers can hand it off safely.
func (h Histogram) Clone() Histogram {
	out := h
	out.Buckets = append([]Bucket(nil), h.Buckets...)
	return out
}
