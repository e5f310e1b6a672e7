package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"isoflow/internal/histogram"
)

// SafeHistogram is a thread-safe wrapper around hdrhistogram
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	return &SafeHistogram{hist: h}
}

// RecordValue records a latency in microseconds
func (h *SafeHistogram) RecordValue(v int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.RecordValue(v)
}

func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}

func (h *SafeHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

func (h *SafeHistogram) Max() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Max()
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

// Export converts the recorded distribution into buckets of binWidth.
// Boundaries are expressed in milliseconds, matching the traffic tool's
// histogram lines.
func (h *SafeHistogram) Export(metric string, binWidth time.Duration) histogram.Histogram {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := histogram.Histogram{Metric: metric, Unit: "ms", BinWidth: binWidth}
	if h.hist.TotalCount() == 0 {
		return out
	}

	widthUs := binWidth.Microseconds()
	if widthUs <= 0 {
		widthUs = 1
	}

	counts := make(map[int64]int64)
	var order []int64
	for _, bar := range h.hist.Distribution() {
		if bar.Count == 0 {
			continue
		}
		bin := bar.From / widthUs
		if _, ok := counts[bin]; !ok {
			order = append(order, bin)
		}
		counts[bin] += bar.Count
	}

	// Distribution walks values in ascending order, so order is sorted.
	for _, bin := range order {
		out.Buckets = append(out.Buckets, histogram.Bucket{
			Boundary: float64(bin*widthUs) / 1000.0,
			Count:    counts[bin],
		})
	}
	return out
}
