// Package render turns finalized run histograms into files on disk.
package render

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"isoflow/internal/histogram"
)

// Renderer consumes the histograms of a finished run.
type Renderer interface {
	Render(ctx context.Context, title, dir string, hists map[string][]histogram.Histogram) ([]string, error)
}

type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

// Title composes the plot title used for every artifact of a run.
func Title(load, tos, title string, duration time.Duration) string {
	return fmt.Sprintf("(%s %s) %s %ssec ", load, tos, title, strconv.FormatFloat(duration.Seconds(), 'f', -1, 64))
}

// DataRenderer writes one data file per histogram and format, named
// <flow>_<metric>.<format>.
type DataRenderer struct {
	Formats []Format
}

func NewDataRenderer() *DataRenderer {
	return &DataRenderer{Formats: []Format{CSV, JSON}}
}

// Render returns the paths it wrote, sorted by flow then metric.
func (r *DataRenderer) Render(ctx context.Context, title, dir string, hists map[string][]histogram.Histogram) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	flows := make([]string, 0, len(hists))
	for name := range hists {
		flows = append(flows, name)
	}
	sort.Strings(flows)

	var written []string
	for _, name := range flows {
		for _, h := range hists[name] {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			base := filepath.Join(dir, fileName(name, h.Metric))
			for _, f := range r.Formats {
				path := base + "." + string(f)
				var err error
				switch f {
				case CSV:
					err = writeCSV(path, h)
				case JSON:
					err = writeJSON(path, title, name, h)
				default:
					err = fmt.Errorf("render: unknown format %q", f)
				}
				if err != nil {
					return written, fmt.Errorf("render %s %s: %w", name, h.Metric, err)
				}
				written = append(written, path)
			}
		}
	}
	log.Debug().Int("files", len(written)).Str("dir", dir).Msg("histograms rendered")
	return written, nil
}

func fileName(flow, metric string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, metric)
	return flow + "_" + clean
}

// writeCSV writes a header row then one row per bucket.
// Columns: boundary_<unit>,count
func writeCSV(path string, h histogram.Histogram) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	unit := h.Unit
	if unit == "" {
		unit = "ms"
	}
	if err := w.Write([]string{"boundary_" + unit, "count"}); err != nil {
		return err
	}
	for _, b := range h.Buckets {
		record := []string{
			strconv.FormatFloat(b.Boundary, 'f', -1, 64),
			strconv.FormatInt(b.Count, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

type document struct {
	Title     string             `json:"title"`
	Flow      string             `json:"flow"`
	Metric    string             `json:"metric"`
	Unit      string             `json:"unit"`
	BinWidth  string             `json:"bin_width"`
	Total     int64              `json:"total"`
	P50       float64            `json:"p50"`
	P99       float64            `json:"p99"`
	Buckets   []histogram.Bucket `json:"buckets"`
	Generated time.Time          `json:"generated"`
}

func writeJSON(path, title, flow string, h histogram.Histogram) error {
	doc := document{
		Title:     title,
		Flow:      flow,
		Metric:    h.Metric,
		Unit:      h.Unit,
		BinWidth:  h.BinWidth.String(),
		Total:     h.Total(),
		P50:       h.Quantile(50),
		P99:       h.Quantile(99),
		Buckets:   h.Buckets,
		Generated: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
