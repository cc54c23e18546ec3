package transport

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/dnssnd/snd/internal/dns"
	"github.com/dnssnd/snd/internal/engine"
	"github.com/dnssnd/snd/internal/pool"
)

// responsePool recycles receive buffers for stream transports (TCP/DoT)
// running header-only mode, where every frame's bytes are fully read out of
// the parsed Header before the buffer can be reused. Full-message mode skips
// the pool and allocates a fresh body for every frame.
var responsePool = pool.New(func() []byte { return make([]byte, 0, dns.HeaderSize) })

func getResponseBuffer(n int) []byte {
	buf := responsePool.Get()
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

func putResponseBuffer(buf []byte) {
	responsePool.Put(buf[:0])
}

// quiescentTimeout is the "no successful send in the last 5s" bound from the
// per-socket state machine: it both recovers a worker from a hung upstream
// and gives in-flight responses after the last send a chance to still land.
const quiescentTimeout = 5 * time.Second

// Config is the common, transport-agnostic shape every Worker is built from.
// A Runner constructs one Config per core after partitioning totals.
type Config struct {
	Server        string // host:port, or https URL for DoH
	ServerName    string // TLS server name for DoT
	SourceIP      string // local address to bind before dialing; "" uses the OS default
	ClientPerCore int
	FullMessage   bool // parse the whole response vs. header-only
	EDNSSize      int
	MaxCount      uint64        // receive-based stop bound; 0 = unbounded
	Timeout       time.Duration // per-attempt read/write deadline; 0 uses defaultTimeout

	Interval   time.Duration          // 0 disables interval snapshots
	IntervalCh chan<- *engine.StatusStore
}

// Worker is the contract every transport implements: drive producer until
// it signals Stop or the watchdog trips, publishing events into store via
// an engine.Consumer, and return once every socket goroutine has exited.
type Worker interface {
	Run(ctx context.Context, producer *engine.Producer, store *engine.StatusStore) error
}

// defaultTimeout bounds a single write or read attempt when --timeout is left
// unset. It is always far shorter than forever: a socket that times out simply
// loops back to the Producer for its next query, it does not give up on the
// worker.
const defaultTimeout = 5 * time.Second

// ioTimeout resolves the per-attempt deadline for cfg.
func ioTimeout(cfg Config) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultTimeout
}

// dialer builds a net.Dialer bound to cfg.SourceIP's ephemeral port when set,
// so every transport dials from the same local address via the same path
// instead of each reimplementing the --source-ip lookup.
func dialer(cfg Config) net.Dialer {
	d := net.Dialer{Timeout: ioTimeout(cfg)}
	if cfg.SourceIP != "" {
		d.LocalAddr = &net.TCPAddr{IP: net.ParseIP(cfg.SourceIP)}
	}
	return d
}

// dialUDP opens a connected UDP socket to cfg.Server, bound to cfg.SourceIP
// when set.
func dialUDP(cfg Config) (*net.UDPConn, error) {
	d := net.Dialer{Timeout: ioTimeout(cfg)}
	if cfg.SourceIP != "" {
		d.LocalAddr = &net.UDPAddr{IP: net.ParseIP(cfg.SourceIP)}
	}
	conn, err := d.Dial("udp", cfg.Server)
	if err != nil {
		return nil, err
	}
	return conn.(*net.UDPConn), nil
}

// watchdog cancels cancel once either the receive-based max is reached or no
// socket has sent successfully in quiescentTimeout: the loop-level stop
// condition shared by every transport, checked centrally rather than
// per-socket since all sockets in a worker share one StatusStore.
func watchdog(ctx context.Context, cancel context.CancelFunc, store *engine.StatusStore, maxCount uint64, lastSend *atomic.Int64) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if maxCount > 0 && store.ReceivedCount() >= maxCount {
				cancel()
				return
			}
			last := time.Unix(0, lastSend.Load())
			if time.Since(last) > quiescentTimeout {
				cancel()
				return
			}
		}
	}
}

// runConsumer wires a fresh engine.Consumer to store and runs it until
// events closes; the returned channel closes once its final report has been
// frozen.
func runConsumer(cfg Config, store *engine.StatusStore, events <-chan engine.Event) (consumerDone <-chan struct{}) {
	c := engine.NewConsumer(events, store, cfg.Interval, cfg.IntervalCh)
	go c.Run()
	return c.Done()
}

// publishResponse parses a raw datagram/stream body and, if it parses,
// sends the matching event with its sampled elapsed time (0 if unsampled).
// A parse failure is silently dropped: counted nowhere, loop proceeds, per
// the "wire parse failures" failure semantics.
func publishResponse(payload []byte, fullMessage bool, pending *PendingSendTable, events chan<- engine.Event) {
	if fullMessage {
		pkt, err := dns.ParseResponseBounded(payload)
		if err != nil {
			return
		}
		events <- engine.Event{Kind: engine.EventMessage, Message: pkt, Elapsed: elapsedFor(pkt.Header.ID, pending)}
		return
	}

	off := 0
	h, err := dns.ParseHeader(payload, &off)
	if err != nil {
		return
	}
	events <- engine.Event{Kind: engine.EventHeader, Header: h, Elapsed: elapsedFor(h.ID, pending)}
}

func elapsedFor(id uint16, pending *PendingSendTable) float64 {
	sentAt, ok := pending.Take(id)
	if !ok {
		return 0
	}
	return time.Since(sentAt).Seconds()
}

// publishResponseElapsed is publishResponse for transports where the elapsed
// time is already known at the call site (DoH's request/response pairing
// needs no PendingSendTable lookup: the goroutine that sent the request is
// the same one that reads its response).
func publishResponseElapsed(payload []byte, fullMessage bool, elapsed float64, events chan<- engine.Event) {
	if fullMessage {
		pkt, err := dns.ParseResponseBounded(payload)
		if err != nil {
			return
		}
		events <- engine.Event{Kind: engine.EventMessage, Message: pkt, Elapsed: elapsed}
		return
	}

	off := 0
	h, err := dns.ParseHeader(payload, &off)
	if err != nil {
		return
	}
	events <- engine.Event{Kind: engine.EventHeader, Header: h, Elapsed: elapsed}
}

// responseBufferSize picks the receive buffer: header-only mode only ever
// needs the fixed 12-byte header, full-message mode needs room for the
// configured EDNS payload size.
func responseBufferSize(fullMessage bool, ednsSize int) int {
	if !fullMessage {
		return dns.HeaderSize
	}
	if ednsSize <= 0 {
		return 1232
	}
	return ednsSize
}
