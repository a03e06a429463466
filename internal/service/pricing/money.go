package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// applyRate returns cents*rate rounded half away from zero.
func applyRate(cents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(rate).Round(0).IntPart()
}

// allocate splits amount across weights pro rata. Leftover cents go to the largest
// remainders, ties to the lower index, so the parts always sum to amount.
func allocate(amount int64, weights []int64) []int64 {
	parts := make([]int64, len(weights))
	var sum int64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if amount <= 0 || sum <= 0 {
		return parts
	}

	type remainder struct {
		idx int
		rem int64
	}
	rems := make([]remainder, 0, len(weights))
	var assigned int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		// amount*w can exceed int64 for absurd carts; decimal keeps it exact
		share := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(w))
		q, r := share.QuoRem(decimal.NewFromInt(sum), 0)
		parts[i] = q.IntPart()
		assigned += parts[i]
		rems = append(rems, remainder{idx: i, rem: r.IntPart()})
	}

	sort.SliceStable(rems, func(a, b int) bool {
		if rems[a].rem != rems[b].rem {
			return rems[a].rem > rems[b].rem
		}
		return rems[a].idx < rems[b].idx
	})
	for i := 0; assigned < amount; i++ {
		parts[rems[i%len(rems)].idx]++
		assigned++
	}
	return parts
}
