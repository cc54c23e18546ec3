package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheFromDomainRoundTrip(t *testing.T) {
	c, err := NewCacheFromDomain("example.com", 1, CacheOptions{RD: true, EDNS: true, EDNSSize: 1232})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	bytes, qtype := c.Next()
	assert.Equal(t, uint16(1), qtype)
	assert.GreaterOrEqual(t, len(bytes), 12)
}

func TestCacheNextRandomizesID(t *testing.T) {
	c, err := NewCacheFromDomain("example.com", 1, CacheOptions{RD: true})
	require.NoError(t, err)

	idOffset := c.IDOffset()
	seen := map[[2]byte]bool{}
	for i := 0; i < 32; i++ {
		b, _ := c.Next()
		var id [2]byte
		copy(id[:], b[idOffset:idOffset+2])
		seen[id] = true
	}
	assert.Greater(t, len(seen), 1, "expected non-constant transaction IDs across draws with overwhelming probability")
}

func TestCacheFixedID(t *testing.T) {
	c, err := NewCacheFromDomain("example.com", 1, CacheOptions{RD: true, FixedID: 0xBEEF})
	require.NoError(t, err)

	idOffset := c.IDOffset()
	for i := 0; i < 4; i++ {
		b, _ := c.Next()
		assert.Equal(t, byte(0xBE), b[idOffset])
		assert.Equal(t, byte(0xEF), b[idOffset+1])
	}
}

func TestCacheLengthPrefixedIDOffset(t *testing.T) {
	c, err := NewCacheFromDomain("example.com", 1, CacheOptions{RD: true, LengthPrefixed: true})
	require.NoError(t, err)
	assert.Equal(t, 2, c.IDOffset())

	b, _ := c.Next()
	length := int(b[0])<<8 | int(b[1])
	assert.Equal(t, length, len(b)-2, "length prefix must describe the framed body size")
}

func TestCacheRoundRobinsAcrossTemplates(t *testing.T) {
	input := "a.test A\nb.test AAAA\n"
	templates, err := parseCacheFile(strings.NewReader(input), CacheOptions{RD: true}, nil)
	require.NoError(t, err)
	require.Len(t, templates, 2)

	c := &Cache{templates: templates}
	_, qtype1 := c.Next()
	_, qtype2 := c.Next()
	_, qtype3 := c.Next()
	assert.Equal(t, uint16(1), qtype1)
	assert.Equal(t, uint16(28), qtype2)
	assert.Equal(t, qtype1, qtype3, "round-robin should wrap back to the first template")
}

func TestCacheFileSkipsUnparseableLines(t *testing.T) {
	input := "a.test A\nbad.test NOTATYPE\nb.test MX\n# comment\n\n"
	templates, err := parseCacheFile(strings.NewReader(input), CacheOptions{RD: true}, nil)
	require.NoError(t, err)
	require.Len(t, templates, 2, "the unparseable qtype line should be skipped, not abort the whole file")
	assert.Equal(t, uint16(1), templates[0].QType)
	assert.Equal(t, uint16(15), templates[1].QType)
}

func TestCacheFileDefaultsQTypeToA(t *testing.T) {
	templates, err := parseCacheFile(strings.NewReader("bare-domain.test\n"), CacheOptions{RD: true}, nil)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, uint16(1), templates[0].QType)
}

func TestNewCacheFromFileRejectsMissingFile(t *testing.T) {
	_, err := NewCacheFromFile("/nonexistent/path/this/does/not/exist", CacheOptions{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}
