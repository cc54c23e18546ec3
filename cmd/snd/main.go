package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dnssnd/snd/internal/config"
	"github.com/dnssnd/snd/internal/engine"
	"github.com/dnssnd/snd/internal/logging"
	"github.com/dnssnd/snd/internal/report"
	"github.com/dnssnd/snd/internal/transport"
)

func main() {
	cfg := parseFlags()

	logger := logging.Configure(logging.Config{
		Level:      levelFor(cfg.Debug),
		Structured: true,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runnerCfg, err := buildRunnerConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to build run", "error", err)
		os.Exit(1)
	}

	result, err := engine.Run(ctx, runnerCfg)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}

	doc := report.Build(result.Store)
	if err := report.WriteTo(cfg.Output, doc); err != nil {
		logger.Error("failed to write report", "error", err)
		os.Exit(1)
	}
}

func parseFlags() *config.Config {
	c := &config.Config{}

	flag.StringVar(&c.Server, "server", "", "target address")
	flag.StringVar(&c.Server, "s", "", "target address (shorthand)")
	var port uint
	flag.UintVar(&port, "port", 53, "target port")
	flag.UintVar(&port, "p", 53, "target port (shorthand)")
	flag.StringVar(&c.Domain, "domain", "", "single-query domain")
	flag.StringVar(&c.Domain, "d", "", "single-query domain (shorthand)")
	flag.StringVar(&c.Type, "type", "A", "single-query type")
	flag.StringVar(&c.Type, "t", "A", "single-query type (shorthand)")
	flag.StringVar(&c.File, "file", "", "query file")
	flag.StringVar(&c.File, "f", "", "query file (shorthand)")
	flag.BoolVar(&c.FileLoop, "file-loop", true, "cycle queries forever")
	flag.StringVar(&c.Protocol, "protocol", "udp", "transport: UDP, TCP, DOT, DOH")
	flag.Float64Var(&c.QPS, "qps", 0, "target queries per second (0 = unlimited)")
	flag.Float64Var(&c.QPS, "q", 0, "target queries per second (shorthand)")
	flag.Uint64Var(&c.Max, "max", 0, "stop after N successfully received responses")
	flag.Uint64Var(&c.Max, "m", 0, "stop after N successfully received responses (shorthand)")
	var timeSecs uint
	flag.UintVar(&timeSecs, "time", 0, "stop after N seconds of sending")
	flag.UintVar(&timeSecs, "T", 0, "stop after N seconds of sending (shorthand)")
	var client uint
	flag.UintVar(&client, "client", 1, "sockets per worker")
	flag.UintVar(&client, "c", 1, "sockets per worker (shorthand)")
	var timeoutSecs uint
	flag.UintVar(&timeoutSecs, "timeout", 5, "read timeout")
	var packetID uint
	flag.UintVar(&packetID, "packet-id", 0, "fixed transaction id (0 = random)")
	flag.StringVar(&c.SourceIP, "source-ip", "", "bind address")
	flag.StringVar(&c.BindCPU, "bind-cpu", "random", "random, all, or comma separated core indices")
	var ednsSize uint
	flag.UintVar(&ednsSize, "edns-size", 1232, "EDNS buffer size when enabled")
	flag.BoolVar(&c.DisableEDNS, "disable-edns", false, "omit the EDNS OPT record")
	flag.BoolVar(&c.DisableRD, "disable-rd", false, "clear Recursion Desired")
	flag.BoolVar(&c.EnableCD, "enable-cd", false, "set Checking Disabled")
	flag.BoolVar(&c.EnableDNSSEC, "enable-dnssec", false, "request DNSSEC (DO flag)")
	flag.StringVar(&c.DoHServer, "doh-server", "", "DoH endpoint URL")
	flag.StringVar(&c.DoHMethod, "doh-server-method", "POST", "GET or POST")
	flag.BoolVar(&c.CheckAllMessage, "check-all-message", false, "parse full responses, not just the header")
	flag.StringVar(&c.Output, "output", "stdout", "stdout, *.json, or *.yaml")
	flag.StringVar(&c.Output, "o", "stdout", "output path (shorthand)")
	var intervalSecs uint
	flag.UintVar(&intervalSecs, "interval", 0, "interval report cadence (0 = none)")
	flag.UintVar(&intervalSecs, "I", 0, "interval report cadence (shorthand)")
	flag.BoolVar(&c.Debug, "debug", false, "verbose logging")
	flag.Parse()

	c.Port = uint16(port)
	c.Time = time.Duration(timeSecs) * time.Second
	c.Client = uint32(client)
	c.Timeout = time.Duration(timeoutSecs) * time.Second
	c.PacketID = uint16(packetID)
	c.EDNSSize = int(ednsSize)
	c.Interval = time.Duration(intervalSecs) * time.Second
	return c
}

func levelFor(debug bool) string {
	if debug {
		return "debug"
	}
	return "info"
}

// buildRunnerConfig turns the validated CLI config into an engine.RunnerConfig,
// closing over the transport-specific pieces (NewCache, NewWorker) so the
// engine package stays free of any import on package transport.
func buildRunnerConfig(c *config.Config, logger *slog.Logger) (engine.RunnerConfig, error) {
	qtype, _ := engine.QTypeFromName(c.Type)

	lengthPrefixed := strings.EqualFold(c.Protocol, "tcp") || strings.EqualFold(c.Protocol, "dot")

	cacheOpts := engine.CacheOptions{
		RD:             !c.DisableRD,
		CD:             c.EnableCD,
		DNSSEC:         c.EnableDNSSEC,
		EDNS:           !c.DisableEDNS,
		EDNSSize:       c.EDNSSize,
		LengthPrefixed: lengthPrefixed,
		FixedID:        c.PacketID,
	}

	newCache := func() (*engine.Cache, error) {
		if c.File != "" {
			return engine.NewCacheFromFile(c.File, cacheOpts, logger)
		}
		return engine.NewCacheFromDomain(c.Domain, qtype, cacheOpts)
	}

	method := transport.DoHPost
	if strings.EqualFold(c.DoHMethod, "GET") {
		method = transport.DoHGet
	}

	protocol := strings.ToLower(c.Protocol)
	server := c.ServerAddr()
	if protocol == "doh" {
		server = c.DoHServer
	}

	newWorker := func(_ int, part engine.Partition, intervalCh chan<- *engine.StatusStore) (engine.Worker, error) {
		return transport.New(protocol, transport.Config{
			Server:        server,
			ServerName:    c.Server,
			SourceIP:      c.SourceIP,
			ClientPerCore: part.ClientPerCore,
			FullMessage:   c.CheckAllMessage,
			EDNSSize:      c.EDNSSize,
			MaxCount:      part.Max,
			Timeout:       c.Timeout,
			Interval:      c.Interval,
			IntervalCh:    intervalCh,
		}, method, 0)
	}

	return engine.RunnerConfig{
		BindCPU:       c.BindCPU,
		QPS:           c.QPS,
		Max:           c.Max,
		Duration:      c.Time,
		ClientPerCore: int(c.Client),
		NewCache:      newCache,
		NewWorker:     newWorker,
		Logger:        logger,
		Interval:      c.Interval,
		OnInterval: func(store *engine.StatusStore) {
			report.PrintInterval(store)
		},
	}, nil
}
