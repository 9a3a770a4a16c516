package reward

import (
	"math"
	"sort"
)

// Reshape applies the luck curve to weights and returns a new slice in the
// same index order:
//
//	w' = w * (atan((m-1)*w/k) * (max-w)/w + 1)
//
// Every nonzero weight moves toward the largest one, rarer tiers gaining the
// most; atan bounds the gain at (max-w)*π/2. Zero weights stay zero. A
// multiplier of 1 or less, or a non-positive k, leaves weights unchanged.
func Reshape(weights []float64, multiplier, k float64) []float64 {
	out := make([]float64, len(weights))
	copy(out, weights)
	if multiplier <= 1 || k <= 0 || len(weights) == 0 {
		return out
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return weights[order[a]] > weights[order[b]] })
	highest := weights[order[0]]

	for _, i := range order {
		w := weights[i]
		if w <= 0 {
			continue
		}
		out[i] = w * (math.Atan((multiplier-1)*w/k)*(highest-w)/w + 1)
	}
	return out
}

// DrawTier picks a tier index for a uniform r in [0,1).
//
// Tiers are laid out by ascending weight (equal weights keep index order) as a
// cumulative distribution and the first boundary >= r wins. Zero-weight tiers
// are never chosen. The tier with the largest weight takes any r past the last
// boundary, which covers float rounding at the top. When every weight is zero
// the lowest index is returned.
func DrawTier(weights []float64, r float64) TierID {
	order := make([]int, 0, len(weights))
	total := 0.0
	for i, w := range weights {
		if w > 0 {
			order = append(order, i)
			total += w
		}
	}
	if len(order) == 0 {
		return 0
	}
	sort.SliceStable(order, func(a, b int) bool { return weights[order[a]] < weights[order[b]] })

	cum := 0.0
	for _, i := range order {
		cum += weights[i] / total
		if r <= cum {
			return TierID(i)
		}
	}
	return TierID(order[len(order)-1])
}

// Filter reports whether an item may be drawn in the current context.
type Filter func(itemID string, item ItemConfig) bool

// Eligible drops blacklisted items, and exclusive ones unless allowExclusive.
func Eligible(allowExclusive bool) Filter {
	return func(_ string, item ItemConfig) bool {
		if item.Blacklisted {
			return false
		}
		return allowExclusive || !item.Exclusive
	}
}

// DrawItem picks uniformly among tier id's members that pass filter, using a
// uniform r in [0,1). ok is false when the tier is unknown or nothing passes.
func (t *Table) DrawItem(id TierID, filter Filter, r float64) (itemID string, ok bool) {
	tier, found := t.Tier(id)
	if !found {
		return "", false
	}
	valid := make([]string, 0, len(tier.Items))
	for _, itemID := range tier.Items {
		item, known := t.items[itemID]
		if !known {
			continue
		}
		if filter != nil && !filter(itemID, item) {
			continue
		}
		valid = append(valid, itemID)
	}
	if len(valid) == 0 {
		return "", false
	}
	i := int(r * float64(len(valid)))
	if i >= len(valid) {
		i = len(valid) - 1
	}
	if i < 0 {
		i = 0
	}
	return valid[i], true
}
