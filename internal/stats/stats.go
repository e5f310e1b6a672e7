package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"isoflow/internal/histogram"
)

// DefaultBinWidth matches the traffic tool's default rx-histogram bin width.
const DefaultBinWidth = 100 * time.Microsecond

// Stats holds real-time aggregated metrics for one flow
type Stats struct {
	Reports uint64
	Samples uint64
	Bytes   uint64
	// Dropped counts samples outside the histogram range.
	Dropped uint64

	// Latency histograms (microseconds), one per metric
	mu     sync.Mutex
	series map[string]*SafeHistogram
}

func NewStats() *Stats {
	return &Stats{series: make(map[string]*SafeHistogram)}
}

// AddReport counts one report line received from the traffic session.
func (s *Stats) AddReport(bytes int64) {
	atomic.AddUint64(&s.Reports, 1)
	if bytes > 0 {
		atomic.AddUint64(&s.Bytes, uint64(bytes))
	}
}

// AddSample records one latency observation for metric.
func (s *Stats) AddSample(metric string, d time.Duration) error {
	atomic.AddUint64(&s.Samples, 1)
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	if err := s.histogramFor(metric).RecordValue(us); err != nil {
		atomic.AddUint64(&s.Dropped, 1)
		return err
	}
	return nil
}

func (s *Stats) histogramFor(metric string) *SafeHistogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.series[metric]
	if !ok {
		h = NewSafeHistogram()
		s.series[metric] = h
	}
	return h
}

// Metrics lists the metrics that have samples, sorted by name.
func (s *Stats) Metrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// P99Ms returns the 99th percentile of metric in milliseconds.
func (s *Stats) P99Ms(metric string) float64 {
	return float64(s.histogramFor(metric).ValueAtQuantile(99)) / 1000.0
}

// MeanMs returns the mean of metric in milliseconds.
func (s *Stats) MeanMs(metric string) float64 {
	return s.histogramFor(metric).Mean() / 1000.0
}

// Export converts every sampled metric into a histogram.
func (s *Stats) Export(binWidth time.Duration) []histogram.Histogram {
	var out []histogram.Histogram
	for _, name := range s.Metrics() {
		h := s.histogramFor(name).Export(name, binWidth)
		if !h.Empty() {
			out = append(out, h)
		}
	}
	return out
}
