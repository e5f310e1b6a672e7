package traffic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"isoflow/internal/histogram"
)

var (
	// [  1] 0.00-10.00 sec T8-PDF: bin(w=100us):cnt(600)=161:1,162:4 (5.00/95.00/...)
	pdfLine = regexp.MustCompile(`^\[\s*(?:\d+|SUM)\]\s+([\d.]+)-\s*([\d.]+)\s+sec\s+(\S+)-PDF:\s+bin\(w=(\d+)(us|ms)\):cnt\((\d+)\)=(\S+)`)

	intervalLine = regexp.MustCompile(`^\[\s*(?:\d+|SUM)\]\s+([\d.]+)-\s*([\d.]+)\s+sec\s+([\d.]+)\s+([KMG]?)Bytes`)
	jitterField  = regexp.MustCompile(`bits/sec\s+([\d.]+)\s+ms`)
	latencyField = regexp.MustCompile(`\s([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+)\s+ms`)
)

// ParseLine turns one line of traffic tool output into a report. ok is false
// for lines that carry no measurement.
func ParseLine(line string) (Report, bool, error) {
	line = strings.TrimSpace(line)
	if m := pdfLine.FindStringSubmatch(line); m != nil {
		h, err := parsePDF(m)
		if err != nil {
			return Report{}, false, err
		}
		return Report{Kind: ReportHistogram, Histogram: h}, true, nil
	}

	m := intervalLine.FindStringSubmatch(line)
	if m == nil {
		return Report{}, false, nil
	}
	r := Report{Kind: ReportInterval}
	r.Start = seconds(m[1])
	r.End = seconds(m[2])
	if v, err := strconv.ParseFloat(m[3], 64); err == nil {
		r.Bytes = int64(v * byteUnit(m[4]))
	}
	if j := jitterField.FindStringSubmatch(line); j != nil {
		r.Jitter = millis(j[1])
	}
	if l := latencyField.FindStringSubmatch(line); l != nil {
		r.Latency = millis(l[1])
	}
	return r, true, nil
}

func parsePDF(m []string) (histogram.Histogram, error) {
	width, _ := strconv.ParseInt(m[4], 10, 64)
	binWidth := time.Duration(width) * time.Microsecond
	if m[5] == "ms" {
		binWidth = time.Duration(width) * time.Millisecond
	}
	if binWidth <= 0 {
		return histogram.Histogram{}, fmt.Errorf("histogram %s: zero bin width", m[3])
	}

	h := histogram.Histogram{Metric: m[3], Unit: "ms", BinWidth: binWidth}
	widthMs := float64(binWidth) / float64(time.Millisecond)
	for _, pair := range strings.Split(m[7], ",") {
		binText, countText, ok := strings.Cut(pair, ":")
		if !ok {
			return histogram.Histogram{}, fmt.Errorf("histogram %s: bad bin %q", m[3], pair)
		}
		bin, err := strconv.ParseInt(binText, 10, 64)
		if err != nil {
			return histogram.Histogram{}, fmt.Errorf("histogram %s: bad bin %q", m[3], pair)
		}
		count, err := strconv.ParseInt(countText, 10, 64)
		if err != nil {
			return histogram.Histogram{}, fmt.Errorf("histogram %s: bad count %q", m[3], pair)
		}
		h.Buckets = append(h.Buckets, histogram.Bucket{Boundary: float64(bin) * widthMs, Count: count})
	}

	if total, err := strconv.ParseInt(m[6], 10, 64); err == nil && total != h.Total() {
		return histogram.Histogram{}, fmt.Errorf("histogram %s: cnt(%d) does not match bins (%d)", m[3], total, h.Total())
	}
	return h, nil
}

func byteUnit(prefix string) float64 {
	switch prefix {
	case "K":
		return 1 << 10
	case "M":
		return 1 << 20
	case "G":
		return 1 << 30
	}
	return 1
}

func seconds(s string) time.Duration {
	v, _ := strconv.ParseFloat(s, 64)
	return time.Duration(v * float64(time.Second))
}

func millis(s string) time.Duration {
	v, _ := strconv.ParseFloat(s, 64)
	return time.Duration(v * float64(time.Millisecond))
}
