package engine

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dnssnd/snd/internal/dns"
)

// Template is a precomputed query with its ID byte offset recorded, so
// Cache.Next can rewrite just the transaction-ID bytes on every draw instead
// of re-encoding the packet.
type Template struct {
	Bytes          []byte
	IDOffset       int
	QTypeOffset    int
	QType          uint16
	LengthPrefixed bool
}

// CacheOptions configures how templates are built from a domain/type pair or
// a query file.
type CacheOptions struct {
	RD             bool
	CD             bool
	DNSSEC         bool
	EDNS           bool
	EDNSSize       int
	LengthPrefixed bool
	FixedID        uint16 // 0 => random ID written on every draw
}

// Cache is an ordered, round-robin sequence of query templates. Ownership is
// exclusive to one worker; that worker's socket goroutines reach it only
// through the worker's Producer, whose mutex serializes every Next call.
type Cache struct {
	templates []Template
	counter   uint64
	fixedID   uint16
}

// NewCacheFromDomain builds a single-template cache for one domain/qtype pair.
func NewCacheFromDomain(domain string, qtype uint16, opts CacheOptions) (*Cache, error) {
	t, err := buildTemplate(domain, qtype, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &Cache{templates: []Template{t}, fixedID: opts.FixedID}, nil
}

// NewCacheFromFile parses one `<domain> [<qtype>]` entry per line (qtype
// defaults to A); unparseable lines are logged and skipped, matching the
// original load-file semantics this tool's query-file mode is grounded on.
func NewCacheFromFile(path string, opts CacheOptions, logger *slog.Logger) (*Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open query file: %v", ErrConfiguration, err)
	}
	defer f.Close()

	templates, err := parseCacheFile(f, opts, logger)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: query file %q contained no usable entries", ErrConfiguration, path)
	}
	return &Cache{templates: templates, fixedID: opts.FixedID}, nil
}

func parseCacheFile(r io.Reader, opts CacheOptions, logger *slog.Logger) ([]Template, error) {
	templates := make([]Template, 0, 64)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		domain := fields[0]
		qtypeName := "A"
		if len(fields) > 1 {
			qtypeName = fields[1]
		}
		qtype, ok := QTypeFromName(qtypeName)
		if !ok {
			if logger != nil {
				logger.Warn("skipping unparseable query file line", "line", lineNo, "content", line)
			}
			continue
		}
		t, err := buildTemplate(domain, qtype, opts)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping unparseable query file line", "line", lineNo, "error", err)
			}
			continue
		}
		templates = append(templates, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading query file: %v", ErrConfiguration, err)
	}
	return templates, nil
}

func buildTemplate(domain string, qtype uint16, opts CacheOptions) (Template, error) {
	bytes, idOffset, qtypeOffset, err := dns.BuildQuery(domain, qtype, dns.QueryOptions{
		RD:             opts.RD,
		CD:             opts.CD,
		DNSSEC:         opts.DNSSEC,
		EDNS:           opts.EDNS,
		EDNSSize:       opts.EDNSSize,
		LengthPrefixed: opts.LengthPrefixed,
		FixedID:        opts.FixedID,
	})
	if err != nil {
		return Template{}, err
	}
	return Template{
		Bytes:          bytes,
		IDOffset:       idOffset,
		QTypeOffset:    qtypeOffset,
		QType:          qtype,
		LengthPrefixed: opts.LengthPrefixed,
	}, nil
}

// Next advances the round-robin counter, rewrites the transaction-ID bytes
// (random unless a fixed ID was configured), and returns a fresh copy of the
// template's bytes and its qtype. The copy matters once callers hand the
// slice off to a socket write outside the Producer's lock: a caller's own
// buffer can't be clobbered by the next Next() call touching the same
// template's scratch storage.
func (c *Cache) Next() ([]byte, uint16) {
	idx := c.counter % uint64(len(c.templates))
	c.counter++
	t := &c.templates[idx]

	if c.fixedID == 0 {
		var idBuf [2]byte
		_, _ = rand.Read(idBuf[:])
		copy(t.Bytes[t.IDOffset:t.IDOffset+2], idBuf[:])
	} else {
		t.Bytes[t.IDOffset] = byte(c.fixedID >> 8)
		t.Bytes[t.IDOffset+1] = byte(c.fixedID)
	}

	out := make([]byte, len(t.Bytes))
	copy(out, t.Bytes)
	return out, t.QType
}

// Len reports the number of distinct templates in the cache.
func (c *Cache) Len() int { return len(c.templates) }

// IDOffset reports where the transaction ID lives in every template's bytes.
// A single Cache is always built for one transport's framing (LengthPrefixed
// is a CacheOptions-wide setting), so the offset is uniform across templates.
func (c *Cache) IDOffset() int {
	if len(c.templates) == 0 {
		return 0
	}
	return c.templates[0].IDOffset
}
