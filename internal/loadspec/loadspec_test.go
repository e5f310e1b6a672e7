package loadspec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefault(t *testing.T) {
	l, err := Parse(Default)
	require.NoError(t, err)
	assert.Equal(t, Isochronous, l.Kind)
	assert.Equal(t, int64(60), l.RatePerSecond)
	assert.Equal(t, 18_000_000.0, l.MeanSizeBytes)
	assert.Equal(t, 0.0, l.SizeVarianceBytes)
}

func TestParseValid(t *testing.T) {
	tests := []struct {
		in       string
		rate     int64
		mean     float64
		variance float64
	}{
		{in: "1:1", rate: 1, mean: 1},
		{in: "30:1500", rate: 30, mean: 1500},
		{in: "90:2K,100", rate: 90, mean: 2000, variance: 100},
		{in: "60:18m,1.5M", rate: 60, mean: 18e6, variance: 1.5e6},
		{in: "24:1G,0", rate: 24, mean: 1e9},
		{in: "120:0.5k,0", rate: 120, mean: 500},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			l, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.rate, l.RatePerSecond)
			assert.InDelta(t, tc.mean, l.MeanSizeBytes, 1e-6)
			assert.InDelta(t, tc.variance, l.SizeVarianceBytes, 1e-6)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []string{
		"",
		"60",
		":18M",
		"0:18M",
		"-5:18M",
		"abc:18M",
		"1.5:18M",
		"10K:18M",
		"60:",
		"60:xyz",
		"60:18M,",
		"60:18M,abc",
		"60:18M,0,1",
		"60: 18M",
		" 60:18M",
		"60:18M,-1",
		"60:NaN",
		"60:M",
		"60:0",
		"60:-0",
		"60:0K,0",
		"+60:1",
		"60:+1",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedLoadSpec), "got %v", err)
		})
	}
}

func TestParseOffered(t *testing.T) {
	l, err := ParseOffered(DefaultStress)
	require.NoError(t, err)
	assert.Equal(t, Bandwidth, l.Kind)
	assert.Equal(t, 20e6, l.BandwidthBitsPerSecond)
	assert.Equal(t, []string{"-b", "20M"}, l.IperfArgs())

	l, err = ParseOffered("60:18M,0")
	require.NoError(t, err)
	assert.Equal(t, Isochronous, l.Kind)

	for _, bad := range []string{"", "0", "0M", "fast", "20 M", "0:1"} {
		_, err := ParseOffered(bad)
		assert.ErrorIs(t, err, ErrMalformedLoadSpec, bad)
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, in := range []string{"60:18M,0", "30:1.5M,200K", "10:999,1"} {
		l, err := Parse(in)
		require.NoError(t, err)
		again, err := Parse(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, again)
	}
	l, _ := Parse(Default)
	assert.Equal(t, []string{"--isochronous", "60:18M,0"}, l.IperfArgs())
}

func TestFrameInterval(t *testing.T) {
	l, err := Parse("50:1K")
	require.NoError(t, err)
	assert.InDelta(t, 0.02, l.FrameInterval(), 1e-12)

	bw, err := ParseOffered("1M")
	require.NoError(t, err)
	assert.Zero(t, bw.FrameInterval())
}
