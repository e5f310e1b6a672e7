package loadspec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const (
	// Default is the offered load of the isochronous measurement flow.
	Default = "60:18M,0"
	// DefaultStress is the offered load of the stress flow (plain bandwidth).
	DefaultStress = "20M"
)

var ErrMalformedLoadSpec = errors.New("malformed load spec")

type Kind int

const (
	Isochronous Kind = iota
	Bandwidth
)

func (k Kind) String() string {
	if k == Bandwidth {
		return "bandwidth"
	}
	return "isochronous"
}

// LoadSpec describes the offered load of one flow.
//
// Isochronous loads carry a frame rate plus a mean and variance for the
// per-frame size. Bandwidth loads only carry a target bit rate.
type LoadSpec struct {
	Kind              Kind
	RatePerSecond     int64
	MeanSizeBytes     float64
	SizeVarianceBytes float64

	BandwidthBitsPerSecond float64
}

// Parse parses the isochronous grammar <fps>:<mean>[,<variance>].
func Parse(s string) (LoadSpec, error) {
	if s == "" {
		return LoadSpec{}, fmt.Errorf("%w: empty", ErrMalformedLoadSpec)
	}
	if strings.ContainsFunc(s, unicode.IsSpace) {
		return LoadSpec{}, fmt.Errorf("%w: %q contains whitespace", ErrMalformedLoadSpec, s)
	}

	rateText, sizes, ok := strings.Cut(s, ":")
	if !ok {
		return LoadSpec{}, fmt.Errorf("%w: %q missing ':'", ErrMalformedLoadSpec, s)
	}

	rate, err := strconv.ParseInt(rateText, 10, 64)
	if err != nil || !startsWithDigit(rateText) {
		return LoadSpec{}, fmt.Errorf("%w: rate %q is not an integer", ErrMalformedLoadSpec, rateText)
	}
	if rate <= 0 {
		return LoadSpec{}, fmt.Errorf("%w: rate must be positive, got %d", ErrMalformedLoadSpec, rate)
	}

	meanText, varText, hasVar := strings.Cut(sizes, ",")
	mean, err := parseSize(meanText)
	if err != nil {
		return LoadSpec{}, fmt.Errorf("%w: mean: %v", ErrMalformedLoadSpec, err)
	}
	if mean <= 0 {
		return LoadSpec{}, fmt.Errorf("%w: mean must be positive, got %q", ErrMalformedLoadSpec, meanText)
	}

	var variance float64
	if hasVar {
		variance, err = parseSize(varText)
		if err != nil {
			return LoadSpec{}, fmt.Errorf("%w: variance: %v", ErrMalformedLoadSpec, err)
		}
	}

	return LoadSpec{
		Kind:              Isochronous,
		RatePerSecond:     rate,
		MeanSizeBytes:     mean,
		SizeVarianceBytes: variance,
	}, nil
}

// ParseOffered accepts either the isochronous grammar or a plain bandwidth
// token such as "20M".
func ParseOffered(s string) (LoadSpec, error) {
	if strings.Contains(s, ":") {
		return Parse(s)
	}
	if s == "" || strings.ContainsFunc(s, unicode.IsSpace) {
		return LoadSpec{}, fmt.Errorf("%w: %q", ErrMalformedLoadSpec, s)
	}
	bw, err := parseSize(s)
	if err != nil {
		return LoadSpec{}, fmt.Errorf("%w: bandwidth: %v", ErrMalformedLoadSpec, err)
	}
	if bw <= 0 {
		return LoadSpec{}, fmt.Errorf("%w: bandwidth must be positive", ErrMalformedLoadSpec)
	}
	return LoadSpec{Kind: Bandwidth, BandwidthBitsPerSecond: bw}, nil
}

// String renders the spec back into its textual form.
func (l LoadSpec) String() string {
	if l.Kind == Bandwidth {
		return formatSize(l.BandwidthBitsPerSecond)
	}
	return fmt.Sprintf("%d:%s,%s", l.RatePerSecond, formatSize(l.MeanSizeBytes), formatSize(l.SizeVarianceBytes))
}

// IperfArgs returns the client arguments selecting this load.
func (l LoadSpec) IperfArgs() []string {
	if l.Kind == Bandwidth {
		return []string{"-b", l.String()}
	}
	return []string{"--isochronous", l.String()}
}

// FrameInterval is the spacing between isochronous frames.
func (l LoadSpec) FrameInterval() float64 {
	if l.Kind != Isochronous || l.RatePerSecond <= 0 {
		return 0
	}
	return 1 / float64(l.RatePerSecond)
}

var multipliers = map[byte]float64{
	'k': 1e3, 'K': 1e3,
	'm': 1e6, 'M': 1e6,
	'g': 1e9, 'G': 1e9,
}

func parseSize(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("empty field")
	}
	if !startsWithDigit(s) {
		return 0, fmt.Errorf("%q must start with a digit", s)
	}
	mult := 1.0
	if m, ok := multipliers[s[len(s)-1]]; ok {
		mult = m
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not numeric", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("%q is negative", s)
	}
	return v * mult, nil
}

// startsWithDigit rejects the signs strconv would otherwise accept.
func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func formatSize(v float64) string {
	switch {
	case v >= 1e9 && isWhole(v/1e9):
		return strconv.FormatFloat(v/1e9, 'f', -1, 64) + "G"
	case v >= 1e6 && isWhole(v/1e6*1000):
		return strconv.FormatFloat(v/1e6, 'f', -1, 64) + "M"
	case v >= 1e3 && isWhole(v/1e3*1000):
		return strconv.FormatFloat(v/1e3, 'f', -1, 64) + "K"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isWhole(v float64) bool {
	return v == float64(int64(v))
}
