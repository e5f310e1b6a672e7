package storage

import (
	"time"

	"isoflow/internal/controller"
)

// MaxItems bounds the history; older runs are pruned on Save.
const MaxItems = 100

type HistoryItem struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	OutputDir  string        `json:"output_dir"`
	Flows      []FlowSummary `json:"flows"`
}

type FlowSummary struct {
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	State      string  `json:"state"`
	Error      string  `json:"error,omitempty"`
	Reports    uint64  `json:"reports"`
	Bytes      uint64  `json:"bytes"`
	ElapsedSec float64 `json:"elapsed_sec"`
	Histograms int     `json:"histograms"`
	// Latency percentiles of the first non-empty histogram, in its unit.
	P50 float64 `json:"p50"`
	P99 float64 `json:"p99"`
}

// OK reports whether every flow of the run completed.
func (h HistoryItem) OK() bool {
	if len(h.Flows) == 0 {
		return false
	}
	for _, f := range h.Flows {
		if f.State != "Completed" {
			return false
		}
	}
	return true
}

func (h HistoryItem) Duration() time.Duration { return h.FinishedAt.Sub(h.StartedAt) }

// FromResult summarizes a finished run for the history.
func FromResult(res controller.Result, outputDir string) HistoryItem {
	item := HistoryItem{
		ID:         res.RunID,
		Title:      res.Title,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		OutputDir:  outputDir,
	}
	for _, name := range res.Order {
		st := res.Status[name]
		fs := FlowSummary{
			Name:       name,
			Role:       st.Role.String(),
			State:      st.State.String(),
			Reports:    st.Reports,
			Bytes:      st.Bytes,
			ElapsedSec: st.Elapsed.Seconds(),
			Histograms: len(res.Histograms[name]),
		}
		if st.Err != nil {
			fs.Error = st.Err.Error()
		}
		for _, h := range res.Histograms[name] {
			if !h.Empty() {
				fs.P50 = h.Quantile(50)
				fs.P99 = h.Quantile(99)
				break
			}
		}
		item.Flows = append(item.Flows, fs)
	}
	return item
}
