package histogram

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(metric string, counts ...int64) Histogram {
	h := Histogram{Metric: metric, Unit: "ms", BinWidth: 100 * time.Microsecond}
	for i, c := range counts {
		h.Buckets = append(h.Buckets, Bucket{Boundary: float64(i) * 0.1, Count: c})
	}
	return h
}

func TestCollectorKeepsFlowsDistinct(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Ingest("ISOCH", sample("T8", 1, 2)))
	require.NoError(t, c.Ingest("STRESS", sample("T8", 5)))
	require.NoError(t, c.Ingest("ISOCH", sample("F8", 3)))

	got, err := c.Finalize()
	require.NoError(t, err)

	want := map[string][]Histogram{
		"ISOCH":  {sample("T8", 1, 2), sample("F8", 3)},
		"STRESS": {sample("T8", 5)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Finalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectorFinalizeOnce(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Ingest("ISOCH", sample("T8", 1)))

	_, err := c.Finalize()
	require.NoError(t, err)

	_, err = c.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)
	assert.ErrorIs(t, c.Ingest("ISOCH", sample("T8", 1)), ErrFinalized)
}

func TestCollectorIngestCopies(t *testing.T) {
	c := NewCollector()
	h := sample("T8", 1, 1)
	require.NoError(t, c.Ingest("ISOCH", h))
	h.Buckets[0].Count = 99

	got, err := c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["ISOCH"][0].Buckets[0].Count)
}

func TestCollectorConcurrentIngest(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for f := 0; f < 4; f++ {
		name := fmt.Sprintf("flow-%d", f)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, c.Ingest(name, sample("T8", int64(i))))
			}
		}()
	}
	wg.Wait()

	got, err := c.Finalize()
	require.NoError(t, err)
	require.Len(t, got, 4)
	for name, hs := range got {
		assert.Len(t, hs, 100, name)
		for i, h := range hs {
			assert.Equal(t, int64(i), h.Buckets[0].Count, name)
		}
	}
}

func TestHistogramQuantile(t *testing.T) {
	h := sample("T8", 10, 80, 10)
	assert.Equal(t, int64(100), h.Total())
	assert.InDelta(t, 0.0, h.Quantile(5), 1e-9)
	assert.InDelta(t, 0.1, h.Quantile(50), 1e-9)
	assert.InDelta(t, 0.2, h.Quantile(95), 1e-9)
	assert.True(t, Histogram{}.Empty())
	assert.Zero(t, Histogram{}.Quantile(50))
}
