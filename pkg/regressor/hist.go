package regressor

import "sort"

// histFinder bins every feature into quantile buckets once per fit and
// evaluates splits on bin boundaries only. Independent of the exact
// strategy: coarser thresholds, but node scans are O(n + bins) per feature.
type histFinder struct {
	target  []float64
	minLeaf int
	bins    int

	edges  [][]float64 // per feature, ascending upper edges
	binned [][]uint16  // per sample, bin index per feature

	sums   []float64
	counts []int
}

func newHistFinder(xs [][]float64, target []float64, idx []int, bins, minLeaf int) *histFinder {
	if bins < 2 {
		bins = 2
	}
	numFeatures := 0
	if len(xs) > 0 {
		numFeatures = len(xs[0])
	}

	f := &histFinder{
		target:  target,
		minLeaf: minLeaf,
		bins:    bins,
		edges:   make([][]float64, numFeatures),
		binned:  make([][]uint16, len(xs)),
		sums:    make([]float64, bins),
		counts:  make([]int, bins),
	}

	values := make([]float64, 0, len(idx))
	for feat := 0; feat < numFeatures; feat++ {
		values = values[:0]
		for _, i := range idx {
			values = append(values, xs[i][feat])
		}
		sort.Float64s(values)
		f.edges[feat] = quantileEdges(values, bins)
	}

	for i := range xs {
		row := make([]uint16, numFeatures)
		for feat := 0; feat < numFeatures; feat++ {
			row[feat] = uint16(findBin(f.edges[feat], xs[i][feat]))
		}
		f.binned[i] = row
	}
	return f
}

func (f *histFinder) bestSplit(idx []int) (split, bool) {
	if len(idx) < 2*f.minLeaf {
		return split{}, false
	}

	var total float64
	for _, i := range idx {
		total += f.target[i]
	}
	base := total * total / float64(len(idx))

	best := split{gain: 1e-12}
	found := false

	for feat := range f.edges {
		edges := f.edges[feat]
		if len(edges) == 0 {
			continue
		}
		for b := range f.sums {
			f.sums[b] = 0
			f.counts[b] = 0
		}
		for _, i := range idx {
			b := f.binned[i][feat]
			f.sums[b] += f.target[i]
			f.counts[b]++
		}

		var sumLeft float64
		var nLeft int
		for b := 0; b < len(edges); b++ {
			sumLeft += f.sums[b]
			nLeft += f.counts[b]
			nRight := len(idx) - nLeft
			if nLeft < f.minLeaf || nRight < f.minLeaf {
				continue
			}
			sumRight := total - sumLeft
			gain := sumLeft*sumLeft/float64(nLeft) + sumRight*sumRight/float64(nRight) - base
			if gain > best.gain {
				best = split{feature: feat, threshold: edges[b], gain: gain}
				found = true
			}
		}
	}
	return best, found
}

// quantileEdges returns ascending split thresholds between bins. Fewer edges
// than requested are returned when the value distribution has few distinct
// values; a constant feature yields none.
func quantileEdges(sorted []float64, bins int) []float64 {
	if len(sorted) == 0 || sorted[0] == sorted[len(sorted)-1] {
		return nil
	}
	edges := make([]float64, 0, bins-1)
	for b := 1; b < bins; b++ {
		pos := b * len(sorted) / bins
		if pos <= 0 || pos >= len(sorted) {
			continue
		}
		edge := (sorted[pos-1] + sorted[pos]) / 2
		if sorted[pos-1] == sorted[pos] {
			continue
		}
		if len(edges) == 0 || edge > edges[len(edges)-1] {
			edges = append(edges, edge)
		}
	}
	return edges
}

// findBin maps a value to its bin: the number of edges strictly below it.
func findBin(edges []float64, v float64) int {
	lo, hi := 0, len(edges)
	for lo < hi {
		mid := (lo + hi) / 2
		if v < edges[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
