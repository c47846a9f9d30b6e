package qrnes

import (
	"math/rand/v2"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidatePaths(t *testing.T) {
	buckets := candidatePaths(PathGraph(4))
	require.Len(t, buckets, 3)
	assert.Len(t, buckets[0], 6)
	assert.Len(t, buckets[1], 4)
	assert.Len(t, buckets[2], 2)
	assert.Contains(t, buckets[2], []NodeID{0, 1, 2, 3})
	assert.Contains(t, buckets[2], []NodeID{3, 2, 1, 0})
}

func TestPlanFlowsOnPath(t *testing.T) {
	g := PathGraph(4)
	fp, err := PlanFlows(g, FlowPlanOpts{TotalFlows: 4, Alpha: 1.0, UnitSize: 1}, seeded(1), seeded(2))
	require.NoError(t, err)

	assert.Equal(t, []int{3, 1, 0}, fp.Targets)
	assert.Equal(t, []int{3, 1, 0}, fp.Selected)
	assert.Equal(t, []int{3, 1, 0}, fp.HopCounts)
	assert.Equal(t, 4, fp.TotalSelected())
	assert.Empty(t, fp.Repairs)
	assert.Len(t, fp.Flows, 4)

	total := 0
	for id, c := range fp.Capacity {
		assert.GreaterOrEqual(t, c, 1, "router %d", id)
		total += c
	}
	// one flow with a relay (1+2+1) and three direct flows (1+1 each)
	assert.Equal(t, 10, total)

	for src, flow := range fp.Flows {
		assert.Equal(t, src, flow.Source)
		assert.Equal(t, src, flow.Path[0])
	}
	sorted := fp.SortedFlows()
	for idx, flow := range sorted {
		assert.Equal(t, NodeID(idx), flow.Source)
	}
}

func TestPlanFlowsRepairsOrphans(t *testing.T) {
	g := PathGraph(5)
	fp, err := PlanFlows(g, FlowPlanOpts{TotalFlows: 0, Alpha: 1.0, UnitSize: 2}, seeded(1), seeded(2))
	require.NoError(t, err)

	assert.Equal(t, 0, fp.TotalSelected())
	require.Len(t, fp.Repairs, 3)
	assert.Equal(t, []NodeID{4, 3}, fp.Flows[4].Path)
	assert.Equal(t, []NodeID{2, 1}, fp.Flows[2].Path)

	// the odd one out owns its flow, toward some other router
	last := fp.Flows[0]
	assert.Equal(t, NodeID(0), last.Source)
	assert.NotEqual(t, NodeID(0), last.Destination())

	for id, c := range fp.Capacity {
		assert.GreaterOrEqual(t, c, 2, "router %d", id)
	}
	hops := 0
	for _, n := range fp.HopCounts {
		hops += n
	}
	assert.Equal(t, 3, hops)
}

func TestPlanFlowsUnreachableOrphan(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddEdge(0, 1))
	g.AddNode(2)
	_, err := PlanFlows(g, FlowPlanOpts{TotalFlows: 0, Alpha: 1.0, UnitSize: 1}, seeded(1), seeded(2))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestPlanFlowsBadInput(t *testing.T) {
	_, err := PlanFlows(PathGraph(1), FlowPlanOpts{TotalFlows: 1, Alpha: 1, UnitSize: 1}, seeded(1), seeded(2))
	assert.Error(t, err)
	_, err = PlanFlows(PathGraph(3), FlowPlanOpts{TotalFlows: 1, Alpha: 1, UnitSize: 0}, seeded(1), seeded(2))
	assert.Error(t, err)
	_, err = PlanFlows(PathGraph(3), FlowPlanOpts{TotalFlows: -1, Alpha: 1, UnitSize: 1}, seeded(1), seeded(2))
	assert.Error(t, err)
}

func TestPlanFlowsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("flows are shortest, sources unique, every router has memory", prop.ForAll(
		func(seed uint64, n int, alpha float64, unit int) bool {
			g, err := GenInternetGraph(n, DefaultAttach, rand.NewPCG(seed, seed))
			if err != nil {
				return false
			}
			fp, err := PlanFlows(g, FlowPlanOpts{TotalFlows: n, Alpha: alpha, UnitSize: unit}, seeded(seed), seeded(seed+1))
			if err != nil {
				return false
			}
			if fp.TotalSelected() > n {
				return false
			}
			for _, id := range g.NodeIDs() {
				if fp.Capacity[id] < unit {
					return false
				}
			}
			hopTotal := 0
			for _, c := range fp.HopCounts {
				hopTotal += c
			}
			if hopTotal != len(fp.Flows) {
				return false
			}
			for src, flow := range fp.Flows {
				hops, ok := g.HopDistance(flow.Source, flow.Destination())
				if !ok || src != flow.Path[0] || len(flow.Path)-1 != hops {
					return false
				}
			}
			_, err = BuildForwardingTables(fp.SortedFlows())
			return err == nil
		},
		gen.UInt64(),
		gen.IntRange(4, 30),
		gen.Float64Range(0.2, 3.0),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}
