package regressor

import "sort"

// exactFinder evaluates every distinct feature value as a split candidate,
// scanning samples in sorted order per feature. This is the exact greedy
// strategy; accurate but O(n log n) per feature per node.
type exactFinder struct {
	xs      [][]float64
	target  []float64
	minLeaf int

	// scratch reused across nodes
	pairs []valueTarget
}

type valueTarget struct {
	value  float64
	target float64
}

func (f *exactFinder) bestSplit(idx []int) (split, bool) {
	if len(idx) < 2*f.minLeaf {
		return split{}, false
	}

	var total float64
	for _, i := range idx {
		total += f.target[i]
	}
	n := float64(len(idx))
	base := total * total / n

	best := split{gain: 1e-12}
	found := false

	numFeatures := len(f.xs[idx[0]])
	for feat := 0; feat < numFeatures; feat++ {
		if cap(f.pairs) < len(idx) {
			f.pairs = make([]valueTarget, len(idx))
		}
		pairs := f.pairs[:len(idx)]
		for k, i := range idx {
			pairs[k] = valueTarget{value: f.xs[i][feat], target: f.target[i]}
		}
		sort.Slice(pairs, func(a, b int) bool { return pairs[a].value < pairs[b].value })
		if pairs[0].value == pairs[len(pairs)-1].value {
			continue
		}

		var sumLeft float64
		for k := 0; k < len(pairs)-1; k++ {
			sumLeft += pairs[k].target
			if pairs[k].value == pairs[k+1].value {
				continue
			}
			nLeft := k + 1
			nRight := len(pairs) - nLeft
			if nLeft < f.minLeaf || nRight < f.minLeaf {
				continue
			}
			sumRight := total - sumLeft
			gain := sumLeft*sumLeft/float64(nLeft) + sumRight*sumRight/float64(nRight) - base
			if gain > best.gain {
				best = split{
					feature:   feat,
					threshold: (pairs[k].value + pairs[k+1].value) / 2,
					gain:      gain,
				}
				found = true
			}
		}
	}
	return best, found
}
