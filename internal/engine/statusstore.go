package engine

import (
	"sync"
	"time"
)

// StatusStore accumulates per-worker counters. Each worker owns its store
// exclusively until shutdown, with no cross-worker contention, but within a
// worker both the Producer (possibly driven by several socket goroutines)
// and the single Consumer goroutine write into it concurrently, so the
// struct carries its own mutex. That lock never crosses a worker boundary.
type StatusStore struct {
	mu sync.Mutex

	QueryTotal   uint64
	ReceiveTotal uint64
	SendDuration time.Duration
	LastUpdate   time.Time

	// QueryType counts queries by type as the Producer sends them.
	// ResponseQueryType counts the same, but from the echoed question on
	// each full-message response. The two stay separate because
	// response_type's rate in a report is response-count-by-type divided by
	// send-count-by-type for that same type.
	QueryType         map[uint16]uint64
	ResponseQueryType map[uint16]uint64
	AnswerType        map[uint16]uint64
	AuthorityType     map[uint16]uint64
	AdditionalType    map[uint16]uint64
	ReplyCode         map[uint8]uint64

	Histogram *HistogramReport

	// liveHist carries the raw per-worker samples behind Histogram, kept
	// alive until FinalizeHistogram recomputes the report from the full
	// merged sample set. Never copied by Clone: an interval snapshot gets
	// its own immediate report instead (see Consumer.publishSnapshot).
	liveHist *Histogram
}

// NewStatusStore returns an empty store with all maps initialized.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		QueryType:         map[uint16]uint64{},
		ResponseQueryType: map[uint16]uint64{},
		AnswerType:        map[uint16]uint64{},
		AuthorityType:     map[uint16]uint64{},
		AdditionalType:    map[uint16]uint64{},
		ReplyCode:         map[uint8]uint64{},
	}
}

// RecordQuery bumps the per-qtype counter for a query the Producer just drew.
func (s *StatusStore) RecordQuery(qtype uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryTotal++
	s.QueryType[qtype]++
}

// UndoQuery reverses RecordQuery's bump for the same qtype (Producer.ReturnBack),
// so a retrieve-then-return-back round trip leaves the store exactly as it
// found it, not just QueryTotal.
func (s *StatusStore) UndoQuery(qtype uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryTotal > 0 {
		s.QueryTotal--
	}
	if s.QueryType[qtype] > 0 {
		s.QueryType[qtype]--
	}
}

// RecordStop finalizes send-side accounting once the Producer returns Stop.
func (s *StatusStore) RecordStop(sendDuration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendDuration = sendDuration
}

// RecordResponseHeader updates receive-side counters from a header-only
// response (the default, cheaper observation mode).
func (s *StatusStore) RecordResponseHeader(rcode uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReceiveTotal++
	s.ReplyCode[rcode]++
	s.LastUpdate = time.Now()
}

// RecordResponseMessage updates receive-side counters from a fully parsed
// response, additionally bumping the per-record-type maps.
func (s *StatusStore) RecordResponseMessage(qtype uint16, rcode uint8, answerTypes, authorityTypes, additionalTypes []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReceiveTotal++
	s.ResponseQueryType[qtype]++
	s.ReplyCode[rcode]++
	for _, t := range answerTypes {
		s.AnswerType[t]++
	}
	for _, t := range authorityTypes {
		s.AuthorityType[t]++
	}
	for _, t := range additionalTypes {
		s.AdditionalType[t]++
	}
	s.LastUpdate = time.Now()
}

// SetHistogramReport freezes a latency summary into the store without an
// accompanying live histogram, for callers (tests, synthetic workers) that
// never ran a real Histogram and have nothing to merge natively later.
func (s *StatusStore) SetHistogramReport(r HistogramReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Histogram = &r
}

// SetHistogram attaches the worker's raw Histogram at shutdown (the
// Consumer's End event), freezing an immediate report so a single-worker
// caller already has one, while keeping the raw samples alive so a later
// cross-worker merge can recombine them natively instead of working from
// already-frozen reports.
func (s *StatusStore) SetHistogram(h *Histogram) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveHist = h
	r := h.Report()
	s.Histogram = &r
}

// FinalizeHistogram recomputes Histogram from the live, merged samples. Call
// this once, after every per-worker store has been folded together by
// MergeAll, so the final percentiles reflect the full sample union rather
// than a pointwise combination of partial reports. A store with no live
// histogram (e.g. an interval snapshot round) is left untouched.
func (s *StatusStore) FinalizeHistogram() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveHist == nil {
		return
	}
	r := s.liveHist.Report()
	s.Histogram = &r
}

// Clone returns a point-in-time copy of s's counters, safe to hand to an
// interval collector while s keeps accumulating. The copy carries its own
// fresh mutex and no Histogram; callers that want a latency summary attach
// one themselves (see Consumer.publishSnapshot).
func (s *StatusStore) Clone() *StatusStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := NewStatusStore()
	out.QueryTotal = s.QueryTotal
	out.ReceiveTotal = s.ReceiveTotal
	out.SendDuration = s.SendDuration
	out.LastUpdate = s.LastUpdate
	mergeCounterMap(out.QueryType, s.QueryType, nil)
	mergeCounterMap(out.ResponseQueryType, s.ResponseQueryType, nil)
	mergeCounterMap(out.AnswerType, s.AnswerType, nil)
	mergeCounterMap(out.AuthorityType, s.AuthorityType, nil)
	mergeCounterMap(out.AdditionalType, s.AdditionalType, nil)
	mergeByteCounterMap(out.ReplyCode, s.ReplyCode, nil)
	return out
}

// ReceivedCount reports the current receive_total, used by a transport
// worker to evaluate its receive-based --max stop condition.
func (s *StatusStore) ReceivedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReceiveTotal
}

// Merge combines two StatusStores. Merge is associative and commutative:
// counter maps sum by key, send_duration and last_update take the max across
// the inputs (a worker's wall-clock window is never shrunk by merging),
// and histograms merge natively when both sides have one.
func Merge(a, b *StatusStore) *StatusStore {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	out := NewStatusStore()
	out.QueryTotal = a.QueryTotal + b.QueryTotal
	out.ReceiveTotal = a.ReceiveTotal + b.ReceiveTotal
	out.SendDuration = maxDuration(a.SendDuration, b.SendDuration)
	out.LastUpdate = maxTime(a.LastUpdate, b.LastUpdate)

	mergeCounterMap(out.QueryType, a.QueryType, b.QueryType)
	mergeCounterMap(out.ResponseQueryType, a.ResponseQueryType, b.ResponseQueryType)
	mergeCounterMap(out.AnswerType, a.AnswerType, b.AnswerType)
	mergeCounterMap(out.AuthorityType, a.AuthorityType, b.AuthorityType)
	mergeCounterMap(out.AdditionalType, a.AdditionalType, b.AdditionalType)
	mergeByteCounterMap(out.ReplyCode, a.ReplyCode, b.ReplyCode)

	switch {
	case a.liveHist != nil && b.liveHist != nil:
		// Both sides still have raw samples: merge natively and leave
		// Histogram for FinalizeHistogram to compute once, at the end of
		// the whole fold, instead of recomputing percentiles at every
		// intermediate pairwise step.
		merged := NewHistogram()
		merged.Merge(a.liveHist)
		merged.Merge(b.liveHist)
		out.liveHist = merged
	case a.liveHist != nil:
		out.liveHist = a.liveHist
		out.Histogram = a.Histogram
	case b.liveHist != nil:
		out.liveHist = b.liveHist
		out.Histogram = b.Histogram
	case a.Histogram != nil && b.Histogram != nil:
		// Neither side kept raw samples (e.g. two interval-snapshot
		// rounds), so the best we can do is recombine their already-frozen
		// reports.
		merged := MergeHistogramReports(*a.Histogram, *b.Histogram)
		out.Histogram = &merged
	case a.Histogram != nil:
		h := *a.Histogram
		out.Histogram = &h
	case b.Histogram != nil:
		h := *b.Histogram
		out.Histogram = &h
	}

	return out
}

// MergeAll folds a slice of stores into one via repeated pairwise Merge,
// which associativity guarantees is independent of fold order.
func MergeAll(stores []*StatusStore) *StatusStore {
	var out *StatusStore
	for _, s := range stores {
		out = Merge(out, s)
	}
	if out == nil {
		out = NewStatusStore()
	}
	return out
}

func mergeCounterMap(out, a, b map[uint16]uint64) {
	for k, v := range a {
		out[k] += v
	}
	for k, v := range b {
		out[k] += v
	}
}

func mergeByteCounterMap(out, a, b map[uint8]uint64) {
	for k, v := range a {
		out[k] += v
	}
	for k, v := range b {
		out[k] += v
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
