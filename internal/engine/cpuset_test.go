package engine

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCoresAll(t *testing.T) {
	cores, err := ResolveCores("all")
	require.NoError(t, err)
	assert.NotEmpty(t, cores)
	assert.Equal(t, 0, cores[0], "core indices should start at 0")
	for i, c := range cores {
		assert.Equal(t, i, c, "bind-cpu=all should resolve to a dense 0..N-1 range")
	}
}

func TestResolveCoresRandom(t *testing.T) {
	cores, err := ResolveCores("random")
	require.NoError(t, err)
	require.Len(t, cores, 1)
	assert.GreaterOrEqual(t, cores[0], 0)
	assert.Less(t, cores[0], runtime.NumCPU())
}

func TestResolveCoresEmptyDefaultsToRandom(t *testing.T) {
	cores, err := ResolveCores("")
	require.NoError(t, err)
	assert.Len(t, cores, 1)
}

func TestResolveCoresExplicitList(t *testing.T) {
	cores, err := ResolveCores("0")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, cores)
}

func TestResolveCoresRejectsOutOfRangeIndex(t *testing.T) {
	_, err := ResolveCores("999999")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResolveCoresRejectsGarbage(t *testing.T) {
	_, err := ResolveCores("not-a-core")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResolveCoresDedupesNothingButParsesCommaList(t *testing.T) {
	if runtime.NumCPU() < 2 {
		t.Skip("needs at least 2 logical CPUs")
	}
	cores, err := ResolveCores("0,1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, cores)
}
