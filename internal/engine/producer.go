package engine

import (
	"sync"
	"time"
)

// RetrieveStatus is the outcome of a Producer.Retrieve call.
type RetrieveStatus int

const (
	Success RetrieveStatus = iota
	WaitStatus
	Stop
)

// RetrieveResult carries the query bytes on Success or the nanoseconds to
// sleep on WaitStatus; it is the zero value otherwise.
type RetrieveResult struct {
	Status RetrieveStatus
	Bytes  []byte
	QType  uint16
	WaitNS int64
}

// Producer combines a Cache, a RateLimiter, and a stop predicate (duration
// only; a configured --max is enforced on the receive side instead, by the
// transport worker's watchdog in package transport).
//
// A worker's `client_per_core` sockets all draw from the same Producer
// (a Producer is created once per worker, not per socket), so Retrieve
// and ReturnBack take a mutex of their own, separate from StatusStore's:
// the same worker's Consumer goroutine writes into that store concurrently,
// which is why StatusStore guards itself rather than relying on this one.
type Producer struct {
	cache   *Cache
	limiter *RateLimiter
	store   *StatusStore

	mu      sync.Mutex
	counter uint64
	stopAt  time.Time // zero means unbounded
	started time.Time
}

// NewProducer builds a Producer. duration <= 0 means unbounded by time.
func NewProducer(cache *Cache, limiter *RateLimiter, duration time.Duration, store *StatusStore) *Producer {
	p := &Producer{cache: cache, limiter: limiter, store: store, started: time.Now()}
	if duration > 0 {
		p.stopAt = p.started.Add(duration)
	}
	return p
}

// Retrieve gates traffic by rate and the configured stop condition, exactly
// mirroring the Producer state machine: check the limiter, then the stop
// predicate, then draw from the cache.
func (p *Producer) Retrieve() RetrieveResult {
	dec := p.limiter.Check()
	if dec.Kind == Wait {
		return RetrieveResult{Status: WaitStatus, WaitNS: dec.WaitNS}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stopAt.IsZero() && !time.Now().Before(p.stopAt) {
		p.store.RecordStop(time.Since(p.started))
		return RetrieveResult{Status: Stop}
	}

	bytes, qtype := p.cache.Next()
	p.counter++
	p.store.RecordQuery(qtype)
	return RetrieveResult{Status: Success, Bytes: bytes, QType: qtype}
}

// ReturnBack decrements the send counter when a send failed and should not
// count toward query_total; used by transport workers on transient errors.
// qtype must be the QType from the RetrieveResult being undone, so the
// StatusStore's per-type counter is restored along with the total.
func (p *Producer) ReturnBack(qtype uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counter == 0 {
		return
	}
	p.counter--
	p.store.UndoQuery(qtype)
}

// SentCount reports how many queries have been successfully handed to a
// transport worker so far.
func (p *Producer) SentCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

// Stopped reports whether the configured duration (if any) has elapsed.
func (p *Producer) Stopped() bool {
	return !p.stopAt.IsZero() && !time.Now().Before(p.stopAt)
}

// IDOffset exposes where a drawn query's transaction-ID bytes live, so a
// transport worker can read the ID back out of the bytes it was handed
// without re-parsing the whole packet.
func (p *Producer) IDOffset() int { return p.cache.IDOffset() }
