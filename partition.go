package qrnes

// partition.go assigns routers to the groups that are simulated in parallel.
//
// The routers are first dealt out in contiguous runs of ids, then simulated annealing
// swaps pairs of routers between groups to bring down the number of graph edges that
// cross a group boundary (the cut size).  Swapping is the only move, so each group
// keeps the size it was dealt.
//
//   The state of the search is a value holding the group lists and a reverse index from
// router to group.  Computing the energy change of a swap and applying a swap are
// separate functions.  withSwap leaves its input untouched and returns a new state; the
// annealing loops work on a private copy and apply accepted moves in place with
// applySwap, so a step costs the degree of the two routers, not the router count.

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// DefaultAnnealBudget is the wall-clock time the automatic schedule aims to fill
const DefaultAnnealBudget = 6 * time.Second

// ErrGroupCount reports a group count the graph cannot be split into
var ErrGroupCount = errors.New("invalid group count")

// AnnealSchedule fixes the exponential cooling schedule of a partitioning run.
// Temperature falls from Tmax to Tmin over Steps proposed moves.
type AnnealSchedule struct {
	Tmax  float64 `json:"tmax" yaml:"tmax"`
	Tmin  float64 `json:"tmin" yaml:"tmin"`
	Steps int     `json:"steps" yaml:"steps"`
}

// temperature at step
func (as AnnealSchedule) temperature(step int) float64 {
	if as.Steps <= 0 {
		return as.Tmin
	}
	tFactor := -math.Log(as.Tmax / as.Tmin)
	return as.Tmax * math.Exp(tFactor*float64(step)/float64(as.Steps))
}

func (as AnnealSchedule) validate() error {
	if !(as.Tmin > 0) || as.Tmax < as.Tmin {
		return fmt.Errorf("anneal schedule needs 0 < tmin <= tmax, got tmin=%g tmax=%g", as.Tmin, as.Tmax)
	}
	if as.Steps < 0 {
		return fmt.Errorf("anneal schedule has negative step count %d", as.Steps)
	}
	return nil
}

// PartitionOpts selects how the cooling schedule is chosen.
// When Schedule is nil the schedule is tuned automatically to fill Budget.
type PartitionOpts struct {
	Schedule *AnnealSchedule
	Budget   time.Duration
}

// PartitionResult reports the groups found and how the search went
type PartitionResult struct {
	Groups     [][]NodeID
	InitialCut int
	FinalCut   int
	Schedule   AnnealSchedule
	Accepted   int
}

// GroupOf gives the reverse map router -> group
func (pr *PartitionResult) GroupOf() map[NodeID]int {
	owner := make(map[NodeID]int)
	for gidx, group := range pr.Groups {
		for _, id := range group {
			owner[id] = gidx
		}
	}
	return owner
}

// partitionState is one assignment of routers to groups.
// Routers are referred to by their dense position in the graph's sorted id list.
type partitionState struct {
	groups [][]int
	owner  []int
}

// contiguousState deals n routers into numGroups groups of n/numGroups consecutive
// routers, the last group taking the remainder
func contiguousState(n, numGroups int) partitionState {
	size := n / numGroups
	st := partitionState{groups: make([][]int, numGroups), owner: make([]int, n)}
	for idx := 0; idx < n; idx++ {
		gidx := min(idx/size, numGroups-1)
		st.groups[gidx] = append(st.groups[gidx], idx)
		st.owner[idx] = gidx
	}
	return st
}

// swapMove names the two routers to exchange, by group and position in the group
type swapMove struct {
	g1, i1 int
	g2, i2 int
}

// proposeSwap draws two groups (possibly the same one) and a position in each
func proposeSwap(st partitionState, rng *rand.Rand) swapMove {
	g1 := rng.IntN(len(st.groups))
	g2 := rng.IntN(len(st.groups))
	return swapMove{g1: g1, i1: rng.IntN(len(st.groups[g1])), g2: g2, i2: rng.IntN(len(st.groups[g2]))}
}

// cutEnergy counts the edges whose endpoints are owned by different groups
func cutEnergy(adj [][]int, st partitionState) int {
	cut := 0
	for u, nbrs := range adj {
		for _, v := range nbrs {
			if u < v && st.owner[u] != st.owner[v] {
				cut += 1
			}
		}
	}
	return cut
}

// swapDelta is the change in cut size that applying mv to st would cause
func swapDelta(adj [][]int, st partitionState, mv swapMove) int {
	if mv.g1 == mv.g2 {
		return 0
	}
	u := st.groups[mv.g1][mv.i1]
	v := st.groups[mv.g2][mv.i2]

	delta := 0
	// u moves from g1 to g2, v from g2 to g1.  The edge u-v, if present, stays cut.
	for _, w := range adj[u] {
		if w == v {
			continue
		}
		delta += crossing(st.owner[w], mv.g2) - crossing(st.owner[w], mv.g1)
	}
	for _, w := range adj[v] {
		if w == u {
			continue
		}
		delta += crossing(st.owner[w], mv.g1) - crossing(st.owner[w], mv.g2)
	}
	return delta
}

func crossing(a, b int) int {
	if a != b {
		return 1
	}
	return 0
}

// clone returns a state sharing no storage with st
func (st partitionState) clone() partitionState {
	nxt := partitionState{groups: make([][]int, len(st.groups)), owner: slices.Clone(st.owner)}
	for gidx, members := range st.groups {
		nxt.groups[gidx] = slices.Clone(members)
	}
	return nxt
}

// applySwap exchanges the two routers named by mv in place.  It touches two
// group entries and two owner entries.
func (st partitionState) applySwap(mv swapMove) {
	u := st.groups[mv.g1][mv.i1]
	v := st.groups[mv.g2][mv.i2]
	st.groups[mv.g1][mv.i1] = v
	st.groups[mv.g2][mv.i2] = u
	st.owner[v] = mv.g1
	st.owner[u] = mv.g2
}

// withSwap returns the state reached by applying mv, leaving st unchanged.
// It copies the owner index, so the annealing loops apply moves in place instead.
func (st partitionState) withSwap(mv swapMove) partitionState {
	nxt := partitionState{groups: make([][]int, len(st.groups)), owner: slices.Clone(st.owner)}
	copy(nxt.groups, st.groups)
	nxt.groups[mv.g1] = slices.Clone(st.groups[mv.g1])
	if mv.g2 != mv.g1 {
		nxt.groups[mv.g2] = slices.Clone(st.groups[mv.g2])
	}
	nxt.applySwap(mv)
	return nxt
}

// accept applies the Metropolis rule
func accept(delta int, temp float64, rng *rand.Rand) bool {
	if delta <= 0 {
		return true
	}
	return math.Exp(-float64(delta)/temp) > rng.Float64()
}

// anneal runs the schedule from st and returns the final state, its energy
// and the number of moves accepted.  st itself is not modified.
func anneal(adj [][]int, st partitionState, sched AnnealSchedule, rng *rand.Rand) (partitionState, int, int) {
	st = st.clone()
	energy := cutEnergy(adj, st)
	accepted := 0
	for step := 0; step < sched.Steps; step++ {
		temp := sched.temperature(step)
		mv := proposeSwap(st, rng)
		delta := swapDelta(adj, st, mv)
		if !accept(delta, temp, rng) {
			continue
		}
		st.applySwap(mv)
		energy += delta
		accepted += 1
	}
	return st, energy, accepted
}

// PartitionGraph splits the routers of g into numGroups groups while trying to
// minimize the cut size.  A single group holds all routers and no search is made.
// Given the same rng state and an explicit schedule the result is deterministic.
func PartitionGraph(g *Graph, numGroups int, opts PartitionOpts, rng *rand.Rand) (*PartitionResult, error) {
	n := g.Order()
	if numGroups < 1 || numGroups > n {
		return nil, fmt.Errorf("%w: cannot split %d routers into %d groups", ErrGroupCount, n, numGroups)
	}

	ids := g.NodeIDs()
	st := contiguousState(n, numGroups)
	adj := g.denseAdjacency()
	initialCut := cutEnergy(adj, st)

	if numGroups == 1 {
		return &PartitionResult{Groups: stateGroups(ids, st), InitialCut: initialCut, FinalCut: initialCut}, nil
	}

	var sched AnnealSchedule
	if opts.Schedule != nil {
		sched = *opts.Schedule
	} else {
		budget := opts.Budget
		if budget <= 0 {
			budget = DefaultAnnealBudget
		}
		sched = autoSchedule(adj, st, budget, rng)
	}
	if err := sched.validate(); err != nil {
		return nil, err
	}

	logrus.Debugf("annealing partition of %d routers into %d groups: tmax=%g tmin=%g steps=%d",
		n, numGroups, sched.Tmax, sched.Tmin, sched.Steps)

	final, finalCut, accepted := anneal(adj, st, sched, rng)
	return &PartitionResult{
		Groups:     stateGroups(ids, final),
		InitialCut: initialCut,
		FinalCut:   finalCut,
		Schedule:   sched,
		Accepted:   accepted,
	}, nil
}

// stateGroups converts dense positions back to router ids
func stateGroups(ids []NodeID, st partitionState) [][]NodeID {
	groups := make([][]NodeID, len(st.groups))
	for gidx, members := range st.groups {
		groups[gidx] = make([]NodeID, len(members))
		for idx, pos := range members {
			groups[gidx][idx] = ids[pos]
		}
	}
	return groups
}

// explorationSteps is the number of moves in one probe run of AutoSchedule
const explorationSteps = 2000

// maxProbeRounds bounds each of the temperature searches in AutoSchedule
const maxProbeRounds = 40

// AutoSchedule picks a cooling schedule for partitioning g into numGroups groups,
// probing from the contiguous starting split.
func AutoSchedule(g *Graph, numGroups int, budget time.Duration, rng *rand.Rand) (AnnealSchedule, error) {
	n := g.Order()
	if numGroups < 1 || numGroups > n {
		return AnnealSchedule{}, fmt.Errorf("%w: cannot split %d routers into %d groups", ErrGroupCount, n, numGroups)
	}
	return autoSchedule(g.denseAdjacency(), contiguousState(n, numGroups), budget, rng), nil
}

// autoSchedule picks a cooling schedule by probing the search space from st.
// Tmax is the temperature at which about 98% of moves are accepted, Tmin the one at
// which moves stop improving the cut, and Steps is sized so that the annealing run
// takes roughly budget of wall-clock time.  The probing works on its own copy of the state.
func autoSchedule(adj [][]int, st partitionState, budget time.Duration, rng *rand.Rand) AnnealSchedule {
	start := time.Now()
	st = st.clone()
	energy := cutEnergy(adj, st)
	steps := 0

	// probe runs n moves at a fixed temperature and reports acceptance and improvement rates
	probe := func(temp float64, n int) (float64, float64) {
		accepts, improves := 0, 0
		for idx := 0; idx < n; idx++ {
			mv := proposeSwap(st, rng)
			delta := swapDelta(adj, st, mv)
			if !accept(delta, temp, rng) {
				continue
			}
			st.applySwap(mv)
			energy += delta
			accepts += 1
			if delta < 0 {
				improves += 1
			}
		}
		steps += n
		return float64(accepts) / float64(n), float64(improves) / float64(n)
	}

	// initial guess of the temperature is the size of some energy change
	temp := 0.0
	for attempt := 0; temp == 0.0 && attempt < explorationSteps; attempt++ {
		mv := proposeSwap(st, rng)
		temp = math.Abs(float64(swapDelta(adj, st, mv)))
		steps += 1
	}
	if temp == 0.0 {
		// no move changes the cut, e.g. the graph has no edges
		return AnnealSchedule{Tmax: 1.0, Tmin: 1.0, Steps: 0}
	}

	acceptance, improvement := probe(temp, explorationSteps)
	for round := 0; acceptance > 0.98 && round < maxProbeRounds; round++ {
		temp = roundFigures(temp/1.5, 2)
		acceptance, improvement = probe(temp, explorationSteps)
	}
	for round := 0; acceptance < 0.98 && round < maxProbeRounds; round++ {
		temp = roundFigures(temp*1.5, 2)
		acceptance, improvement = probe(temp, explorationSteps)
	}
	tmax := temp

	for round := 0; improvement > 0.0 && round < maxProbeRounds; round++ {
		temp = roundFigures(temp/1.5, 2)
		_, improvement = probe(temp, explorationSteps)
	}
	tmin := temp

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Microsecond
	}
	duration := int(roundFigures(float64(steps)*budget.Seconds()/elapsed.Seconds(), 2))
	duration = max(duration, 1)

	logrus.Debugf("auto schedule: energy after probing %d, tmax=%g tmin=%g steps=%d", energy, tmax, tmin, duration)
	return AnnealSchedule{Tmax: tmax, Tmin: tmin, Steps: duration}
}

// roundFigures rounds x to d significant figures
func roundFigures(x float64, d int) float64 {
	if x == 0 {
		return 0
	}
	mag := math.Floor(math.Log10(math.Abs(x)))
	scale := math.Pow(10, float64(d-1)-mag)
	return math.Round(x*scale) / scale
}

// PartitionFromAssignment builds a partition from an explicit router -> group map,
// bypassing the search.  Every router of g must be assigned a group in [0,numGroups),
// and every group must be non-empty.
func PartitionFromAssignment(g *Graph, numGroups int, assigned map[NodeID]int) (*PartitionResult, error) {
	if numGroups < 1 {
		return nil, fmt.Errorf("%w: %d", ErrGroupCount, numGroups)
	}
	groups := make([][]NodeID, numGroups)
	for _, id := range g.NodeIDs() {
		gidx, present := assigned[id]
		if !present {
			return nil, fmt.Errorf("router %s has no group assignment", RouterName(id))
		}
		if gidx < 0 || gidx >= numGroups {
			return nil, fmt.Errorf("%w: router %s assigned to group %d of %d", ErrGroupCount, RouterName(id), gidx, numGroups)
		}
		groups[gidx] = append(groups[gidx], id)
	}
	for gidx, group := range groups {
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: group %d has no routers", ErrGroupCount, gidx)
		}
	}
	pr := &PartitionResult{Groups: groups}
	pr.InitialCut = g.CutSize(pr.GroupOf())
	pr.FinalCut = pr.InitialCut
	return pr, nil
}
