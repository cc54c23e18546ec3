package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/sync/semaphore"

	"github.com/dnssnd/snd/internal/engine"
)

// DoHMethod selects how a query is carried over HTTP/2, per RFC 8484.
type DoHMethod int

const (
	DoHPost DoHMethod = iota
	DoHGet
)

// defaultDoHStreams bounds concurrent in-flight requests per socket when
// Streams is left at its zero value.
const defaultDoHStreams = 16

// DoHWorker issues each query as one HTTP/2 stream over a connection held
// open for the worker's lifetime. Concurrency per socket is bounded by a
// semaphore rather than firing one goroutine per query unboundedly, which
// is what keeps a slow resolver from piling up unbounded in-flight streams.
type DoHWorker struct {
	Cfg     Config
	Method  DoHMethod
	Streams int64 // max concurrent streams per socket; <=0 uses defaultDoHStreams
}

func (w *DoHWorker) Run(ctx context.Context, producer *engine.Producer, store *engine.StatusStore) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastSend atomic.Int64
	lastSend.Store(time.Now().UnixNano())
	go watchdog(ctx, cancel, store, w.Cfg.MaxCount, &lastSend)

	events := make(chan engine.Event, 4096)
	done := runConsumer(w.Cfg, store, events)

	var wg sync.WaitGroup
	for range w.Cfg.ClientPerCore {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.socketLoop(ctx, producer, events, &lastSend)
		}()
	}
	wg.Wait()

	events <- engine.Event{Kind: engine.EventEnd}
	close(events)
	<-done
	return nil
}

func (w *DoHWorker) socketLoop(ctx context.Context, producer *engine.Producer, events chan<- engine.Event, lastSend *atomic.Int64) {
	client := &http.Client{
		Transport: newDoHTransport(w.Cfg),
		Timeout:   ioTimeout(w.Cfg),
	}

	limit := w.Streams
	if limit <= 0 {
		limit = defaultDoHStreams
	}
	sem := semaphore.NewWeighted(limit)

	var streams sync.WaitGroup
	defer streams.Wait()

	idOffset := producer.IDOffset()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res := producer.Retrieve()
		switch res.Status {
		case engine.Stop:
			return
		case engine.WaitStatus:
			select {
			case <-time.After(time.Duration(res.WaitNS)):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}

		id := binary.BigEndian.Uint16(res.Bytes[idOffset : idOffset+2])
		sampled := Sampled(id)

		streams.Add(1)
		go func(payload []byte, qtype uint16) {
			defer streams.Done()
			defer sem.Release(1)
			w.issue(ctx, client, producer, payload, qtype, sampled, events, lastSend)
		}(res.Bytes, res.QType)
	}
}

// newDoHTransport builds the HTTP/2 transport each DoH socket dials through.
// With no SourceIP it's the library default; with one set, DialTLS is
// overridden to bind that local address before the TLS handshake, since
// http2.Transport has no LocalAddr field of its own.
func newDoHTransport(cfg Config) *http2.Transport {
	if cfg.SourceIP == "" {
		return &http2.Transport{}
	}
	d := dialer(cfg)
	return &http2.Transport{
		DialTLS: func(network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			return tls.DialWithDialer(&d, network, addr, tlsCfg)
		},
	}
}

// issue sends one query as a single HTTP/2 stream and publishes its
// response. Elapsed covers request dispatch to end-of-body receipt on the
// same stream, per the DoH timing contract.
func (w *DoHWorker) issue(ctx context.Context, client *http.Client, producer *engine.Producer, payload []byte, qtype uint16, sampled bool, events chan<- engine.Event, lastSend *atomic.Int64) {
	reqCtx, cancel := context.WithTimeout(ctx, ioTimeout(w.Cfg))
	defer cancel()

	var req *http.Request
	var err error
	if w.Method == DoHGet {
		encoded := base64.RawURLEncoding.EncodeToString(payload)
		req, err = http.NewRequestWithContext(reqCtx, http.MethodGet, w.Cfg.Server+"?dns="+encoded, nil)
	} else {
		req, err = http.NewRequestWithContext(reqCtx, http.MethodPost, w.Cfg.Server, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("content-type", "application/dns-message")
		}
	}
	if err != nil {
		producer.ReturnBack(qtype)
		return
	}
	req.Header.Set("accept", "application/dns-message")

	sentAt := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		producer.ReturnBack(qtype)
		return
	}
	defer resp.Body.Close()
	lastSend.Store(sentAt.UnixNano())

	if resp.StatusCode != http.StatusOK {
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}

	elapsed := 0.0
	if sampled {
		elapsed = time.Since(sentAt).Seconds()
	}
	publishResponseElapsed(body, w.Cfg.FullMessage, elapsed, events)
}
