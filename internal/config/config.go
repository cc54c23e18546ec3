// Package config holds the validated configuration a single snd run is
// built from. It replaces viper with a small struct cmd/snd populates
// directly from flag.Parse; a one-shot CLI tool has no config file or
// live-reload surface worth a dedicated config library for.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dnssnd/snd/internal/engine"
)

// Config is every CLI-surface setting a Runner needs to build its workers.
type Config struct {
	Server   string
	Port     uint16
	Domain   string
	Type     string
	File     string
	FileLoop bool

	Protocol string // udp, tcp, dot, doh

	QPS    float64
	Max    uint64
	Time   time.Duration
	Client uint32

	Timeout  time.Duration
	PacketID uint16
	SourceIP string
	BindCPU  string

	EDNSSize     int
	DisableEDNS  bool
	DisableRD    bool
	EnableCD     bool
	EnableDNSSEC bool

	DoHServer string
	DoHMethod string // GET or POST

	CheckAllMessage bool

	Output   string
	Interval time.Duration

	Debug bool
}

// Validate enforces every configuration-time check, returning
// engine.ErrConfiguration-wrapped errors before any worker starts.
func (c *Config) Validate() error {
	if c.Server == "" && !strings.EqualFold(c.Protocol, "doh") {
		return fmt.Errorf("%w: --server is required", engine.ErrConfiguration)
	}
	if c.Domain == "" && c.File == "" {
		return fmt.Errorf("%w: one of --domain or --file is required", engine.ErrConfiguration)
	}
	if c.Max == 0 && c.Time <= 0 {
		return fmt.Errorf("%w: at least one of --max or --time must be set", engine.ErrConfiguration)
	}
	if c.Client == 0 {
		return fmt.Errorf("%w: --client must be at least 1", engine.ErrConfiguration)
	}

	switch strings.ToLower(c.Protocol) {
	case "udp", "tcp", "dot", "doh":
	default:
		return fmt.Errorf("%w: unrecognized --protocol %q", engine.ErrConfiguration, c.Protocol)
	}

	if strings.EqualFold(c.Protocol, "doh") {
		if c.DoHServer == "" {
			return fmt.Errorf("%w: --doh-server is required for --protocol DOH", engine.ErrConfiguration)
		}
		switch strings.ToUpper(c.DoHMethod) {
		case "", "GET", "POST":
		default:
			return fmt.Errorf("%w: --doh-server-method must be GET or POST", engine.ErrConfiguration)
		}
	}

	if _, ok := engine.QTypeFromName(c.Type); !ok {
		return fmt.Errorf("%w: unrecognized --type %q", engine.ErrConfiguration, c.Type)
	}

	return nil
}

// ServerAddr joins Server and Port into a dial target for UDP/TCP/DoT.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}
