package transport

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnssnd/snd/internal/engine"
)

// UDPWorker drives client_per_core UDP sockets, each on its own goroutine,
// alternating send/recv per the shared transport state machine. Each socket
// is a connected UDP socket, so sends and receives carry no address.
type UDPWorker struct {
	Cfg Config
}

func (w *UDPWorker) Run(ctx context.Context, producer *engine.Producer, store *engine.StatusStore) error {
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
			udpSocketLoop(ctx, w.Cfg, producer, pending, events, &lastSend)
		}()
	}
	wg.Wait()

	events <- engine.Event{Kind: engine.EventEnd}
	close(events)
	<-done
	return nil
}

func udpSocketLoop(ctx context.Context, cfg Config, producer *engine.Producer, pending *PendingSendTable, events chan<- engine.Event, lastSend *atomic.Int64) {
	udpConn, err := dialUDP(cfg)
	if err != nil {
		return
	}
	defer udpConn.Close()

	idOffset := producer.IDOffset()
	timeout := ioTimeout(cfg)
	buf := make([]byte, responseBufferSize(cfg.FullMessage, cfg.EDNSSize))

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

		_ = udpConn.SetWriteDeadline(time.Now().Add(timeout))
		if _, err := udpConn.Write(res.Bytes); err != nil {
			producer.ReturnBack(res.QType)
			continue
		}
		sentAt := time.Now()
		lastSend.Store(sentAt.UnixNano())
		pending.Record(id, sentAt)

		_ = udpConn.SetReadDeadline(time.Now().Add(timeout))
		n, err := udpConn.Read(buf)
		if err != nil {
			continue // dropped on the floor: normal UDP loss semantics
		}

		publishResponse(buf[:n], cfg.FullMessage, pending, events)
	}
}
