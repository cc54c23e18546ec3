package engine

import "github.com/HdrHistogram/hdrhistogram-go"

// histogramLowestNs/highestNs/sigFigs bound the latency range HdrHistogram
// tracks with full precision: 1 microsecond to 5 minutes, 3 significant
// decimal digits, ample for DNS round-trips and their worst-case timeouts.
const (
	histogramLowestNs  = int64(1_000)
	histogramHighestNs = int64(5 * 60 * 1_000_000_000)
	histogramSigFigs   = 3
)

// Histogram is a streaming latency summary in nanoseconds, backed by
// HdrHistogram-go. Merging two histograms is native to the library and
// associative, which is what lets per-worker histograms combine into one
// report regardless of merge order.
type Histogram struct {
	hist *hdrhistogram.Histogram
}

// NewHistogram returns an empty histogram ready to record seconds-valued
// latency samples.
func NewHistogram() *Histogram {
	return &Histogram{hist: hdrhistogram.New(histogramLowestNs, histogramHighestNs, histogramSigFigs)}
}

// Add records one latency sample in seconds. A sample of 0 means
// "unsampled" (the response's transaction ID fell outside the
// PendingSendTable's sampling predicate) and is ignored, matching the
// histogram size invariant of only counting real samples.
func (h *Histogram) Add(seconds float64) {
	if seconds <= 0 {
		return
	}
	ns := int64(seconds * float64(1_000_000_000))
	if ns < histogramLowestNs {
		ns = histogramLowestNs
	}
	_ = h.hist.RecordValue(ns)
}

// Merge folds other's samples into h.
func (h *Histogram) Merge(other *Histogram) {
	if other == nil {
		return
	}
	h.hist.Merge(other.hist)
}

// HistogramReport is a point-in-time latency summary, all values in seconds.
type HistogramReport struct {
	Count int64
	Min   float64
	Max   float64
	Mean  float64
	P50   float64
	P90   float64
	P95   float64
	P99   float64
}

// Report computes the current percentile summary.
func (h *Histogram) Report() HistogramReport {
	count := h.hist.TotalCount()
	if count == 0 {
		return HistogramReport{}
	}
	return HistogramReport{
		Count: count,
		Min:   nsToSeconds(h.hist.Min()),
		Max:   nsToSeconds(h.hist.Max()),
		Mean:  nsToSeconds(int64(h.hist.Mean())),
		P50:   nsToSeconds(h.hist.ValueAtQuantile(50)),
		P90:   nsToSeconds(h.hist.ValueAtQuantile(90)),
		P95:   nsToSeconds(h.hist.ValueAtQuantile(95)),
		P99:   nsToSeconds(h.hist.ValueAtQuantile(99)),
	}
}

// MergeHistogramReports combines two already-computed reports by summing
// counts and taking the pointwise extrema/percentiles across them. Used by
// StatusStore.Merge when two stores each already froze a report (e.g. a
// mid-run interval snapshot merge) instead of holding the full histograms.
func MergeHistogramReports(a, b HistogramReport) HistogramReport {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	return HistogramReport{
		Count: a.Count + b.Count,
		Min:   minFloat(a.Min, b.Min),
		Max:   maxFloat(a.Max, b.Max),
		Mean:  (a.Mean*float64(a.Count) + b.Mean*float64(b.Count)) / float64(a.Count+b.Count),
		P50:   maxFloat(a.P50, b.P50),
		P90:   maxFloat(a.P90, b.P90),
		P95:   maxFloat(a.P95, b.P95),
		P99:   maxFloat(a.P99, b.P99),
	}
}

func nsToSeconds(ns int64) float64 {
	return float64(ns) / float64(1_000_000_000)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
