package qrnes

import (
	"hash/fnv"
	"math/rand/v2"
)

// Names of the random streams a planning run draws from.  Each stochastic
// stage has its own stream so that changing how much randomness one stage
// consumes does not disturb the others.
const (
	StreamGraph     = "graph"
	StreamPartition = "partition"
	StreamFlows     = "flows"
	StreamOrphans   = "orphans"
)

// PlanRNG hands out deterministic, isolated random streams derived from one seed.
//
// The graph stream is seeded with the run seed itself; every other stream is
// seeded with the run seed XOR fnv1a64(stream name).
//
// Not safe for concurrent use.
type PlanRNG struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewPlanRNG is a constructor
func NewPlanRNG(seed int64) *PlanRNG {
	return &PlanRNG{seed: seed, streams: make(map[string]*rand.Rand)}
}

// Stream returns the generator for the named stream, creating it on first use.
// Repeated calls with the same name return the same generator.
func (p *PlanRNG) Stream(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	derived := p.seed
	if name != StreamGraph {
		derived = p.seed ^ fnv1a64(name)
	}
	rng := rand.New(rand.NewPCG(uint64(derived), uint64(p.seed)))
	p.streams[name] = rng
	return rng
}

// Seed returns the run seed
func (p *PlanRNG) Seed() int64 {
	return p.seed
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
