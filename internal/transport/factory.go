package transport

import "fmt"

// New builds the Worker for a transport name ("udp", "tcp", "dot", "doh").
// method and streams are only meaningful for "doh" and ignored otherwise.
func New(kind string, cfg Config, method DoHMethod, streams int64) (Worker, error) {
	switch kind {
	case "udp":
		return &UDPWorker{Cfg: cfg}, nil
	case "tcp":
		return &TCPWorker{Cfg: cfg}, nil
	case "dot":
		return &DoTWorker{Cfg: cfg}, nil
	case "doh":
		return &DoHWorker{Cfg: cfg, Method: method, Streams: streams}, nil
	default:
		return nil, fmt.Errorf("transport: unknown transport %q", kind)
	}
}
