package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnssnd/snd/internal/engine"
)

// TCPWorker drives client_per_core long-lived TCP connections with 2-byte
// length-prefix framing (RFC 1035 section 4.2.2), writing a query and then
// reading its framed response on each connection. A broken connection is redialed once; if that also fails the
// worker drops that socket and continues with whatever others remain.
type TCPWorker struct {
	Cfg Config
}

func (w *TCPWorker) Run(ctx context.Context, producer *engine.Producer, store *engine.StatusStore) error {
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
			tcpSocketLoop(ctx, w.Cfg, producer, pending, events, &lastSend)
		}()
	}
	wg.Wait()

	events <- engine.Event{Kind: engine.EventEnd}
	close(events)
	<-done
	return nil
}

func tcpSocketLoop(ctx context.Context, cfg Config, producer *engine.Producer, pending *PendingSendTable, events chan<- engine.Event, lastSend *atomic.Int64) {
	idOffset := producer.IDOffset()
	timeout := ioTimeout(cfg)

	d := dialer(cfg)
	conn, err := d.Dial("tcp", cfg.Server)
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
			conn, err = d.Dial("tcp", cfg.Server)
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
			conn, err = d.Dial("tcp", cfg.Server)
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

func tcpWrite(conn net.Conn, b []byte, timeout time.Duration) error {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := conn.Write(b)
	return err
}

// tcpReadFramed reads one length-prefixed frame. In header-only mode the
// returned slice comes from responsePool and must be handed back with
// putResponseBuffer once the caller is done with it; full-message mode
// always allocates fresh (see responsePool's doc comment).
func tcpReadFramed(conn net.Conn, fullMessage bool, timeout time.Duration) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf)
	if n == 0 {
		return nil, errors.New("transport: empty tcp response body")
	}

	var body []byte
	if fullMessage {
		body = make([]byte, n)
	} else {
		body = getResponseBuffer(int(n))
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if _, err := io.ReadFull(conn, body); err != nil {
		if !fullMessage {
			putResponseBuffer(body)
		}
		return nil, err
	}
	return body, nil
}
