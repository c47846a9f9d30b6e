package qrnes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildForwardingTables(t *testing.T) {
	flows := []Flow{
		{Source: 0, Path: []NodeID{0, 1, 2, 3}},
		{Source: 1, Path: []NodeID{1, 2, 3}},
		{Source: 3, Path: []NodeID{3, 2}},
	}
	tables, err := BuildForwardingTables(flows)
	require.NoError(t, err)

	nxt, ok := tables.NextHop(0, 3)
	require.True(t, ok)
	assert.Equal(t, NodeID(1), nxt)
	nxt, ok = tables.NextHop(1, 3)
	require.True(t, ok)
	assert.Equal(t, NodeID(2), nxt)
	nxt, ok = tables.NextHop(3, 2)
	require.True(t, ok)
	assert.Equal(t, NodeID(2), nxt)
	_, ok = tables.NextHop(2, 0)
	assert.False(t, ok)

	named := tables.Named(RouterName)
	assert.Equal(t, ForwardingTable{"router_3": "router_3"}, named["router_2"])
	assert.Equal(t, ForwardingTable{"router_3": "router_1"}, named["router_0"])
}

func TestForwardingConflict(t *testing.T) {
	flows := []Flow{
		{Source: 0, Path: []NodeID{0, 1, 3}},
		{Source: 2, Path: []NodeID{2, 1, 4, 3}},
	}
	_, err := BuildForwardingTables(flows)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForwardingConflict)

	var conflict *ForwardingConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, ForwardingConflictError{Node: 1, Destination: 3, Existing: 3, Proposed: 4, Source: 2}, *conflict)
	assert.Contains(t, err.Error(), "router_1")
}

func TestForwardingShortFlow(t *testing.T) {
	_, err := BuildForwardingTables([]Flow{{Source: 0, Path: []NodeID{0}}})
	assert.Error(t, err)
}
