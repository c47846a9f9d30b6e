package qrnes

// flow.go chooses the paths of the planned flows and sizes the memory of every router
// from the flows that pass through it.
//
// Every ordered pair of routers is a candidate flow, its path being the shortest path
// toward the destination.  Candidates are bucketed by the number of relay routers on
// the path.  The demand curve fixes how many flows each bucket contributes; buckets are
// drawn from the longest paths down, since long paths are scarce and would otherwise be
// used up by sources that already took a short one.  A router is the source of at most
// one flow.
//
//   Once the draws are done, routers that no flow touches are paired off and given a
// flow between them, so that every router ends up with some memory.

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/sirupsen/logrus"
)

// ErrUnreachable reports that a flow could not be given a path
var ErrUnreachable = errors.New("destination unreachable")

// Flow is a planned demand from Source, carried on Path.  Path runs from the source
// to the destination inclusive and has at least two routers.
type Flow struct {
	Source NodeID   `json:"source" yaml:"source"`
	Path   []NodeID `json:"path" yaml:"path"`
}

// Destination is the last router on the path
func (f Flow) Destination() NodeID {
	return f.Path[len(f.Path)-1]
}

// Hops is the number of relay routers on the path
func (f Flow) Hops() int {
	return len(f.Path) - 2
}

// FlowPlanOpts holds the parameters of flow planning
type FlowPlanOpts struct {
	// TotalFlows is the number of flows the demand curve distributes
	TotalFlows int

	// Alpha is the rate of the exponential demand curve over hop counts
	Alpha float64

	// UnitSize is the number of memories one flow needs at each end of a link
	UnitSize int
}

// FlowPlan is the outcome of flow planning
type FlowPlan struct {
	// Flows holds every flow, initial and repair, keyed by source
	Flows map[NodeID]Flow

	// Capacity is the number of memories each router needs
	Capacity map[NodeID]int

	// Targets is the number of flows the demand curve asked of each hop bucket
	Targets []int

	// Selected is the number of flows drawn from each hop bucket, before repair
	Selected []int

	// HopCounts is the number of flows on each hop count, repair flows included
	HopCounts []int

	// Repairs lists the flows added for routers that no drawn flow touched
	Repairs []Flow

	unitSize int
}

// SortedFlows lists the flows in ascending order of source
func (fp *FlowPlan) SortedFlows() []Flow {
	sources := make([]NodeID, 0, len(fp.Flows))
	for src := range fp.Flows {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	flows := make([]Flow, 0, len(sources))
	for _, src := range sources {
		flows = append(flows, fp.Flows[src])
	}
	return flows
}

// TotalSelected is the number of flows drawn before repair
func (fp *FlowPlan) TotalSelected() int {
	total := 0
	for _, n := range fp.Selected {
		total += n
	}
	return total
}

// accrue charges the memory a flow on route needs.  The ends each terminate one link
// segment, every relay terminates two.
func (fp *FlowPlan) accrue(route []NodeID) {
	for idx, id := range route {
		if idx == 0 || idx == len(route)-1 {
			fp.Capacity[id] += fp.unitSize
		} else {
			fp.Capacity[id] += 2 * fp.unitSize
		}
	}
}

// countHops records a flow in the hop histogram
func (fp *FlowPlan) countHops(route []NodeID) {
	hops := len(route) - 2
	for len(fp.HopCounts) <= hops {
		fp.HopCounts = append(fp.HopCounts, 0)
	}
	fp.HopCounts[hops] += 1
}

// candidatePaths returns, for each hop count, the shortest paths in both directions
// between every unordered pair of routers
func candidatePaths(g *Graph) [][][]NodeID {
	ids := g.NodeIDs()
	buckets := make([][][]NodeID, 0)
	for idx, src := range ids {
		for _, dst := range ids[:idx] {
			for _, route := range [][]NodeID{g.PathTo(src, dst), g.PathTo(dst, src)} {
				if route == nil {
					continue
				}
				hops := len(route) - 2
				for len(buckets) <= hops {
					buckets = append(buckets, make([][]NodeID, 0))
				}
				buckets[hops] = append(buckets[hops], route)
			}
		}
	}
	return buckets
}

// PlanFlows selects the flows and computes router capacities.  flowRng drives the draws
// from the hop buckets, orphanRng the pairing of a last unmatched router during repair.
func PlanFlows(g *Graph, opts FlowPlanOpts, flowRng, orphanRng *rand.Rand) (*FlowPlan, error) {
	if g.Order() < 2 {
		return nil, fmt.Errorf("flow planning needs at least 2 routers, graph has %d", g.Order())
	}
	if opts.UnitSize < 1 {
		return nil, fmt.Errorf("flow memory size must be positive, got %d", opts.UnitSize)
	}
	if opts.TotalFlows < 0 {
		return nil, fmt.Errorf("negative flow count %d", opts.TotalFlows)
	}

	buckets := candidatePaths(g)
	fp := &FlowPlan{
		Flows:     make(map[NodeID]Flow),
		Capacity:  make(map[NodeID]int),
		Targets:   HopDemand(opts.TotalFlows, opts.Alpha, len(buckets)),
		Selected:  make([]int, len(buckets)),
		HopCounts: make([]int, len(buckets)),
		Repairs:   make([]Flow, 0),
		unitSize:  opts.UnitSize,
	}
	for _, id := range g.NodeIDs() {
		fp.Capacity[id] = 0
	}

	// longest paths first
	for hops := len(buckets) - 1; hops >= 0; hops-- {
		pool := buckets[hops]
		for fp.Selected[hops] < fp.Targets[hops] && len(pool) > 0 {
			pick := flowRng.IntN(len(pool))
			route := pool[pick]
			pool[pick] = pool[len(pool)-1]
			pool = pool[:len(pool)-1]

			if _, taken := fp.Flows[route[0]]; taken {
				continue
			}
			fp.Flows[route[0]] = Flow{Source: route[0], Path: route}
			fp.accrue(route)
			fp.countHops(route)
			fp.Selected[hops] += 1
		}
		if fp.Selected[hops] < fp.Targets[hops] {
			logrus.Debugf("hop bucket %d exhausted with %d of %d flows selected", hops, fp.Selected[hops], fp.Targets[hops])
		}
	}

	if err := fp.repairOrphans(g, orphanRng); err != nil {
		return nil, err
	}
	return fp, nil
}

// repairOrphans gives every router with no memory a flow.  Orphans are paired with
// each other, largest ids first; an odd one out is paired with a random router.
func (fp *FlowPlan) repairOrphans(g *Graph, rng *rand.Rand) error {
	ids := g.NodeIDs()
	unused := make([]NodeID, 0)
	for _, id := range ids {
		if fp.Capacity[id] == 0 {
			unused = append(unused, id)
		}
	}
	if len(unused) == 0 {
		return nil
	}
	logrus.Debugf("repairing %d routers that no flow touches", len(unused))

	for len(unused) > 0 {
		n1 := unused[len(unused)-1]
		unused = unused[:len(unused)-1]

		var n2 NodeID
		if len(unused) > 0 {
			n2 = unused[len(unused)-1]
			unused = unused[:len(unused)-1]
		} else {
			n2 = ids[rng.IntN(len(ids))]
			for n2 == n1 {
				n2 = ids[rng.IntN(len(ids))]
			}
		}

		// the orphan owns the flow; n1 is always an orphan, n2 only when paired with one
		src, dst := n1, n2
		if _, taken := fp.Flows[src]; taken {
			src, dst = n2, n1
			if _, taken := fp.Flows[src]; taken {
				panic(fmt.Errorf("routers %d and %d both own flows but %d has no memory", n1, n2, n1))
			}
		}

		route := g.PathTo(src, dst)
		if route == nil {
			return fmt.Errorf("%w: no path from %s to %s", ErrUnreachable, RouterName(src), RouterName(dst))
		}
		flow := Flow{Source: src, Path: route}
		fp.Flows[src] = flow
		fp.Repairs = append(fp.Repairs, flow)
		fp.accrue(route)
		fp.countHops(route)
	}
	return nil
}
