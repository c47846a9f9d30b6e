package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iti/qrnes"
)

func TestParsePlanArgs(t *testing.T) {
	cfg, err := parsePlanArgs([]string{"100", "42", "4", "1.5", "3", "10", "0.0002", "1"})
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.NetSize)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 4, cfg.Groups)
	assert.Equal(t, 1.5, cfg.Alpha)
	assert.Equal(t, 3, cfg.MemoSize)
	assert.Equal(t, 10.0, cfg.QCLength)
	assert.Equal(t, 0.0002, cfg.QCAtten)
	assert.Equal(t, 1.0, cfg.CCDelay)
	assert.Equal(t, qrnes.DefaultAttach, cfg.Attach)
}

func TestParsePlanArgsErrors(t *testing.T) {
	_, err := parsePlanArgs([]string{"100", "42"})
	assert.Error(t, err)

	_, err = parsePlanArgs([]string{"many", "42", "4", "1", "3", "10", "0", "1"})
	assert.ErrorContains(t, err, "net_size")

	_, err = parsePlanArgs([]string{"100", "42", "4", "1", "3", "10", "0", "soon"})
	assert.ErrorContains(t, err, "cc_delay")
}

func TestParseParallel(t *testing.T) {
	pc, err := parseParallel([]string{"127.0.0.1", "6000", "4", "true", "2"})
	require.NoError(t, err)
	assert.Equal(t, &qrnes.ParallelCfg{IP: "127.0.0.1", Port: 6000, ProcNum: 4, Sync: true, Lookahead: 2}, pc)

	pc, err = parseParallel([]string{"localhost", " 7000", "2", "async", "0"})
	require.NoError(t, err)
	assert.False(t, pc.Sync)
	assert.Equal(t, 7000, pc.Port)

	_, err = parseParallel([]string{"localhost", "7000"})
	assert.Error(t, err)
	_, err = parseParallel([]string{"localhost", "port", "2", "true", "0"})
	assert.ErrorContains(t, err, "port")
}

func TestIsYAMLName(t *testing.T) {
	assert.True(t, isYAMLName("topo.yaml"))
	assert.True(t, isYAMLName("topo.yml"))
	assert.False(t, isYAMLName("topo.json"))
}
