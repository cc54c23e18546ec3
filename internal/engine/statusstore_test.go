package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStoreRecordQuery(t *testing.T) {
	s := NewStatusStore()
	s.RecordQuery(1)
	s.RecordQuery(1)
	s.RecordQuery(28)

	assert.Equal(t, uint64(3), s.QueryTotal)
	assert.Equal(t, uint64(2), s.QueryType[1])
	assert.Equal(t, uint64(1), s.QueryType[28])
}

func TestStatusStoreUndoQueryNeverUnderflows(t *testing.T) {
	s := NewStatusStore()
	s.UndoQuery(1)
	assert.Equal(t, uint64(0), s.QueryTotal)
	assert.Equal(t, uint64(0), s.QueryType[1])
}

func TestStatusStoreUndoQueryReversesRecordQuery(t *testing.T) {
	s := NewStatusStore()
	s.RecordQuery(1)
	s.RecordQuery(28)
	s.UndoQuery(1)

	assert.Equal(t, uint64(1), s.QueryTotal)
	assert.Equal(t, uint64(0), s.QueryType[1])
	assert.Equal(t, uint64(1), s.QueryType[28])
}

func TestStatusStoreReceiveInvariant(t *testing.T) {
	s := NewStatusStore()
	s.RecordQuery(1)
	s.RecordResponseHeader(0)
	assert.LessOrEqual(t, s.ReceiveTotal, s.QueryTotal)
}

func TestStatusStoreRecordResponseMessage(t *testing.T) {
	s := NewStatusStore()
	s.RecordResponseMessage(1, 0, []uint16{1, 1}, []uint16{2}, []uint16{28})

	assert.Equal(t, uint64(1), s.ReceiveTotal)
	assert.Equal(t, uint64(1), s.ResponseQueryType[1])
	assert.Equal(t, uint64(1), s.ReplyCode[0])
	assert.Equal(t, uint64(2), s.AnswerType[1])
	assert.Equal(t, uint64(1), s.AuthorityType[2])
	assert.Equal(t, uint64(1), s.AdditionalType[28])
}

func buildSampleStore(queryTotal, receiveTotal uint64) *StatusStore {
	s := NewStatusStore()
	for i := uint64(0); i < queryTotal; i++ {
		s.RecordQuery(1)
	}
	for i := uint64(0); i < receiveTotal; i++ {
		s.RecordResponseHeader(0)
	}
	return s
}

func TestMergeIsCommutativeAndAssociative(t *testing.T) {
	a := buildSampleStore(10, 8)
	b := buildSampleStore(20, 15)
	c := buildSampleStore(5, 5)

	leftFold := Merge(Merge(a, b), c)
	rightFold := Merge(a, Merge(b, c))
	commuted := Merge(Merge(c, a), b)

	assert.Equal(t, leftFold.QueryTotal, rightFold.QueryTotal)
	assert.Equal(t, leftFold.ReceiveTotal, rightFold.ReceiveTotal)
	assert.Equal(t, leftFold.QueryTotal, commuted.QueryTotal)
	assert.Equal(t, leftFold.ReceiveTotal, commuted.ReceiveTotal)
	assert.Equal(t, uint64(35), leftFold.QueryTotal)
	assert.Equal(t, uint64(28), leftFold.ReceiveTotal)
}

func TestMergeAllIndependentOfOrder(t *testing.T) {
	stores := []*StatusStore{buildSampleStore(1, 1), buildSampleStore(2, 2), buildSampleStore(3, 1)}
	forward := MergeAll(stores)
	backward := MergeAll([]*StatusStore{stores[2], stores[1], stores[0]})

	assert.Equal(t, forward.QueryTotal, backward.QueryTotal)
	assert.Equal(t, forward.ReceiveTotal, backward.ReceiveTotal)
}

func TestMergeTakesMaxSendDurationAndLastUpdate(t *testing.T) {
	a := NewStatusStore()
	a.SendDuration = 2 * time.Second
	a.LastUpdate = time.Unix(100, 0)

	b := NewStatusStore()
	b.SendDuration = 5 * time.Second
	b.LastUpdate = time.Unix(50, 0)

	merged := Merge(a, b)
	assert.Equal(t, 5*time.Second, merged.SendDuration)
	assert.Equal(t, time.Unix(100, 0), merged.LastUpdate)
}

func TestMergeHandlesNilStores(t *testing.T) {
	s := buildSampleStore(3, 2)
	require.Equal(t, s, Merge(nil, s))
	require.Equal(t, s, Merge(s, nil))
	assert.Equal(t, NewStatusStore(), MergeAll(nil))
}

func TestCloneIsIndependentCopy(t *testing.T) {
	s := buildSampleStore(4, 3)
	clone := s.Clone()

	s.RecordQuery(1)
	assert.Equal(t, uint64(4), clone.QueryTotal, "clone must not see later mutations to the source store")
	assert.Equal(t, uint64(5), s.QueryTotal)
}

// TestMergeCombinesHistogramsNatively ensures a cross-worker merge recomputes
// percentiles over the full sample union instead of taking the pointwise max
// of each side's already-frozen report (MergeHistogramReports' fallback,
// which only applies when a side never kept its raw histogram).
func TestMergeCombinesHistogramsNatively(t *testing.T) {
	a := NewStatusStore()
	ha := NewHistogram()
	for i := 1; i <= 10; i++ {
		ha.Add(float64(i) / 1000)
	}
	a.SetHistogram(ha)

	b := NewStatusStore()
	hb := NewHistogram()
	for i := 11; i <= 20; i++ {
		hb.Add(float64(i) / 1000)
	}
	b.SetHistogram(hb)

	merged := Merge(a, b)
	merged.FinalizeHistogram()

	require.NotNil(t, merged.Histogram)
	assert.Equal(t, int64(20), merged.Histogram.Count)
	assert.InDelta(t, 0.001, merged.Histogram.Min, 0.0005)
	assert.InDelta(t, 0.020, merged.Histogram.Max, 0.0005)

	want := NewHistogram()
	want.Merge(ha)
	want.Merge(hb)
	wantReport := want.Report()
	assert.Equal(t, wantReport.P50, merged.Histogram.P50, "merged percentiles must match a direct native merge of the same samples")
}
