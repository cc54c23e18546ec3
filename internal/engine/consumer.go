package engine

import (
	"time"

	"github.com/dnssnd/snd/internal/dns"
)

// EventKind tags what a transport worker observed on recv.
type EventKind int

const (
	EventHeader EventKind = iota
	EventMessage
	EventEnd
)

// Event is published by a transport worker for every recv (or the final End
// marker once its send loop has fully quiesced).
type Event struct {
	Kind    EventKind
	Header  dns.Header
	Message dns.Packet
	Elapsed float64 // seconds; 0 means unsampled, per PendingSendTable's sampling predicate
}

// Consumer owns one Histogram and writes into a shared StatusStore for the
// lifetime of a single worker. It is driven entirely by a channel of Events;
// the histogram is exclusive to this goroutine, while StatusStore guards its
// own fields since the worker's Producer writes into the same store.
type Consumer struct {
	events   <-chan Event
	store    *StatusStore
	hist     *Histogram
	done     chan struct{}
	interval time.Duration
	snapshot chan<- *StatusStore
	started  time.Time
}

// NewConsumer wires a Consumer to an existing StatusStore (the same one the
// Producer records sends into, so the final store reflects both sides). When
// interval > 0 and snapshot is non-nil, Run also publishes a running
// (non-frozen) StatusStore snapshot on that cadence; the publish never
// blocks the send loop that feeds events.
func NewConsumer(events <-chan Event, store *StatusStore, interval time.Duration, snapshot chan<- *StatusStore) *Consumer {
	return &Consumer{events: events, store: store, hist: NewHistogram(), done: make(chan struct{}), interval: interval, snapshot: snapshot, started: time.Now()}
}

// Run drains events until it observes EventEnd, then freezes the histogram
// report into the StatusStore and closes Done. Intended to run in its own
// goroutine for the lifetime of one worker.
func (c *Consumer) Run() {
	var tickC <-chan time.Time
	if c.interval > 0 && c.snapshot != nil {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			switch ev.Kind {
			case EventHeader:
				rcode := uint8(dns.RCodeFromFlags(ev.Header.Flags))
				c.store.RecordResponseHeader(rcode)
				if ev.Elapsed > 0 {
					c.hist.Add(ev.Elapsed)
				}
			case EventMessage:
				rcode := uint8(dns.RCodeFromFlags(ev.Message.Header.Flags))
				qtype := uint16(0)
				if len(ev.Message.Questions) > 0 {
					qtype = ev.Message.Questions[0].Type
				}
				c.store.RecordResponseMessage(qtype, rcode, recordTypes(ev.Message.Answers), recordTypes(ev.Message.Authorities), recordTypes(ev.Message.Additionals))
				if ev.Elapsed > 0 {
					c.hist.Add(ev.Elapsed)
				}
			case EventEnd:
				c.store.SetHistogram(c.hist)
				close(c.done)
				return
			}
		case <-tickC:
			c.publishSnapshot()
		}
	}
}

// publishSnapshot sends a copy of the running store (with the histogram's
// current, not-yet-final report attached) on the interval channel. It is a
// non-blocking send: a slow collector must never stall this worker's send
// loop, so a full channel just drops the snapshot and waits for the next
// tick.
func (c *Consumer) publishSnapshot() {
	snap := c.store.Clone()
	snap.SendDuration = time.Since(c.started)
	report := c.hist.Report()
	snap.Histogram = &report
	select {
	case c.snapshot <- snap:
	default:
	}
}

// Done signals once the consumer has frozen its final histogram report.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Store returns the StatusStore the consumer is accumulating into.
func (c *Consumer) Store() *StatusStore { return c.store }

func recordTypes(records []dns.Record) []uint16 {
	if len(records) == 0 {
		return nil
	}
	out := make([]uint16, len(records))
	for i, r := range records {
		out[i] = r.Type
	}
	return out
}
