package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramEmptyReport(t *testing.T) {
	h := NewHistogram()
	r := h.Report()
	assert.Equal(t, int64(0), r.Count)
}

func TestHistogramIgnoresZeroSamples(t *testing.T) {
	h := NewHistogram()
	h.Add(0)
	h.Add(0)
	r := h.Report()
	assert.Equal(t, int64(0), r.Count, "a sample of 0 means unsampled and must not count")
}

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram()
	for i := 1; i <= 100; i++ {
		h.Add(float64(i) / 1000.0) // 1ms..100ms
	}
	r := h.Report()
	require.Equal(t, int64(100), r.Count)
	assert.InDelta(t, 0.001, r.Min, 0.0005)
	assert.InDelta(t, 0.1, r.Max, 0.0005)
	assert.Greater(t, r.P99, r.P90)
	assert.Greater(t, r.P90, r.P50)
}

func TestHistogramMergeIsAssociative(t *testing.T) {
	a := NewHistogram()
	b := NewHistogram()
	c := NewHistogram()
	for i := 1; i <= 10; i++ {
		a.Add(float64(i) / 1000)
	}
	for i := 11; i <= 20; i++ {
		b.Add(float64(i) / 1000)
	}
	for i := 21; i <= 30; i++ {
		c.Add(float64(i) / 1000)
	}

	left := NewHistogram()
	left.Merge(a)
	left.Merge(b)
	left.Merge(c)

	right := NewHistogram()
	right.Merge(c)
	right.Merge(b)
	right.Merge(a)

	lr, rr := left.Report(), right.Report()
	assert.Equal(t, lr.Count, rr.Count)
	assert.Equal(t, lr.Min, rr.Min)
	assert.Equal(t, lr.Max, rr.Max)
	assert.Equal(t, lr.P50, rr.P50)
}

func TestMergeHistogramReportsHandlesEmptySide(t *testing.T) {
	a := HistogramReport{Count: 0}
	b := HistogramReport{Count: 5, Min: 0.1, Max: 0.5, Mean: 0.3, P50: 0.3, P90: 0.4, P95: 0.45, P99: 0.49}

	assert.Equal(t, b, MergeHistogramReports(a, b))
	assert.Equal(t, b, MergeHistogramReports(b, a))
}

func TestMergeHistogramReportsCombinesExtrema(t *testing.T) {
	a := HistogramReport{Count: 2, Min: 0.01, Max: 0.05, Mean: 0.03, P50: 0.03, P90: 0.04, P95: 0.045, P99: 0.049}
	b := HistogramReport{Count: 3, Min: 0.02, Max: 0.09, Mean: 0.06, P50: 0.06, P90: 0.08, P95: 0.085, P99: 0.089}

	merged := MergeHistogramReports(a, b)
	assert.Equal(t, int64(5), merged.Count)
	assert.Equal(t, 0.01, merged.Min)
	assert.Equal(t, 0.09, merged.Max)
	assert.Equal(t, 0.089, merged.P99, "percentile merge takes the pointwise max across partial reports")
}
