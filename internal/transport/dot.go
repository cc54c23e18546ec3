package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnssnd/snd/internal/engine"
)

// DoTWorker is TCPWorker's framing wrapped in a TLS session per RFC 7858.
// After the handshake, wire rules are identical to plain TCP; TLS-layer
// errors collapse to the same redial-once-then-drop policy as a reset TCP
// connection.
type DoTWorker struct {
	Cfg Config
}

func (w *DoTWorker) Run(ctx context.Context, producer *engine.Producer, store *engine.StatusStore) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastSend atomic.Int64
	lastSend.Store(time.Now().UnixNano())
	go watchdog(ctx, cancel, store, w.Cfg.MaxCount, &lastSend)

	events := make(chan engine.Event, 4096)
	done := runConsumer(w.Cfg, store, events)

	pending := NewPendingSendTable()

	var wg sync.WaitGroup
	for range w.Cfg.ClientPerCore {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dotSocketLoop(ctx, w.Cfg, producer, pending, events, &lastSend)
		}()
	}
	wg.Wait()

	events <- engine.Event{Kind: engine.EventEnd}
	close(events)
	<-done
	return nil
}

func dialDoT(cfg Config) (net.Conn, error) {
	d := dialer(cfg)
	return tls.DialWithDialer(&d, "tcp", cfg.Server, &tls.Config{ServerName: cfg.ServerName})
}

func dotSocketLoop(ctx context.Context, cfg Config, producer *engine.Producer, pending *PendingSendTable, events chan<- engine.Event, lastSend *atomic.Int64) {
	idOffset := producer.IDOffset()
	timeout := ioTimeout(cfg)

	conn, err := dialDoT(cfg)
	if err != nil {
		return
	}
	defer conn.Close()

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

		id := binary.BigEndian.Uint16(res.Bytes[idOffset : idOffset+2])

		if err := tcpWrite(conn, res.Bytes, timeout); err != nil {
			producer.ReturnBack(res.QType)
			conn.Close()
			conn, err = dialDoT(cfg)
			if err != nil {
				return
			}
			continue
		}
		sentAt := time.Now()
		lastSend.Store(sentAt.UnixNano())
		pending.Record(id, sentAt)

		body, err := tcpReadFramed(conn, cfg.FullMessage, timeout)
		if err != nil {
			conn.Close()
			conn, err = dialDoT(cfg)
			if err != nil {
				return
			}
			continue
		}

		publishResponse(body, cfg.FullMessage, pending, events)
		if !cfg.FullMessage {
			putResponseBuffer(body)
		}
	}
}
