package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnssnd/snd/internal/dns"
	"github.com/dnssnd/snd/internal/engine"
)

// echoUDPServer answers every query with a NOERROR header carrying the same
// transaction ID, just enough for UDPWorker's send/recv loop to exercise.
func echoUDPServer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			off := 0
			h, err := dns.ParseHeader(buf[:n], &off)
			if err != nil {
				continue
			}
			h.Flags = 0x8180
			reply, _ := h.Marshal()
			_, _ = conn.WriteToUDP(reply, addr)
		}
	}()
	return conn
}

func TestDialUDPBindsSourceIP(t *testing.T) {
	server := echoUDPServer(t)
	defer server.Close()

	conn, err := dialUDP(Config{Server: server.LocalAddr().String(), SourceIP: "127.0.0.1"})
	require.NoError(t, err)
	defer conn.Close()

	local := conn.LocalAddr().(*net.UDPAddr)
	require.Equal(t, "127.0.0.1", local.IP.String())
}

func TestUDPWorkerSendsAndReceives(t *testing.T) {
	server := echoUDPServer(t)
	defer server.Close()

	cache, err := engine.NewCacheFromDomain("example.com", 1, engine.CacheOptions{RD: true})
	require.NoError(t, err)
	limiter := engine.NewRateLimiter(0)
	producer := engine.NewProducer(cache, limiter, 0, engine.NewStatusStore())
	store := engine.NewStatusStore()

	w := &UDPWorker{Cfg: Config{
		Server:        server.LocalAddr().String(),
		ClientPerCore: 1,
		MaxCount:      5,
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = w.Run(ctx, producer, store)
	require.NoError(t, err)
	require.GreaterOrEqual(t, store.ReceivedCount(), uint64(5))
}
