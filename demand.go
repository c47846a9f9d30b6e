package qrnes

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// HopDemand splits total flows over hop buckets 0..buckets-1 following an exponential
// distribution with rate alpha.  Bucket h is given round(total*(F(h+1)-F(h))) flows, F
// being the exponential CDF, and the last bucket absorbs what is left so the counts sum
// to total exactly.
//
// Rounding can hand out more than total before the last bucket is reached; the excess
// is then taken back from the highest-hop buckets first, so no count is negative.
func HopDemand(total int, alpha float64, buckets int) []int {
	if buckets <= 0 {
		return nil
	}
	demand := make([]int, buckets)
	if total <= 0 {
		return demand
	}

	curve := distuv.Exponential{Rate: alpha}
	assigned := 0
	for h := 0; h < buckets-1; h++ {
		share := curve.CDF(float64(h+1)) - curve.CDF(float64(h))
		demand[h] = int(math.Round(float64(total) * share))
		assigned += demand[h]
	}
	demand[buckets-1] = total - assigned

	for h := buckets - 2; demand[buckets-1] < 0 && h >= 0; h-- {
		take := min(demand[h], -demand[buckets-1])
		demand[h] -= take
		demand[buckets-1] += take
	}
	return demand
}
