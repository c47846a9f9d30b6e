package qrnes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanRNGStreams(t *testing.T) {
	p1 := NewPlanRNG(42)
	p2 := NewPlanRNG(42)
	assert.Equal(t, int64(42), p1.Seed())
	assert.Same(t, p1.Stream(StreamFlows), p1.Stream(StreamFlows))

	for idx := 0; idx < 10; idx++ {
		assert.Equal(t, p1.Stream(StreamFlows).Uint64(), p2.Stream(StreamFlows).Uint64())
	}

	// drawing from one stream leaves the others untouched
	p3 := NewPlanRNG(42)
	for idx := 0; idx < 100; idx++ {
		p3.Stream(StreamPartition).Uint64()
	}
	p4 := NewPlanRNG(42)
	assert.Equal(t, p4.Stream(StreamOrphans).Uint64(), p3.Stream(StreamOrphans).Uint64())

	p5 := NewPlanRNG(42)
	assert.NotEqual(t, p5.Stream(StreamGraph).Uint64(), p5.Stream(StreamFlows).Uint64())
}
