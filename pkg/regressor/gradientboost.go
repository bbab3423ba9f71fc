package regressor

import (
	"math"
	"math/rand"
	"sort"
)

// GradientBoost is an additive ensemble of regression trees fitted to the
// squared-error gradient. The target is modelled on a log scale: build
// durations span seconds to hours and relative error is what matters.
type GradientBoost struct {
	FamilyName   string  `json:"family"`
	Base         float64 `json:"base"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []Tree  `json:"trees"`
}

func (g *GradientBoost) Family() string {
	return g.FamilyName
}

// Predict returns the estimated duration in seconds, never negative.
func (g *GradientBoost) Predict(x []float64) float64 {
	score := g.Base
	for i := range g.Trees {
		score += g.LearningRate * g.Trees[i].Evaluate(x)
	}
	out := math.Expm1(score)
	if out < 0 {
		return 0
	}
	return out
}

func fitGradientBoost(family string, xs [][]float64, y []float64, params Params, seed int64) (*GradientBoost, error) {
	n := len(xs)

	// Fit on log1p of the duration; Predict inverts.
	target := make([]float64, n)
	var base float64
	for i, v := range y {
		target[i] = math.Log1p(v)
		base += target[i]
	}
	base /= float64(n)

	residual := make([]float64, n)
	for i := range residual {
		residual[i] = target[i] - base
	}

	allIdx := make([]int, n)
	for i := range allIdx {
		allIdx[i] = i
	}

	builder := &treeBuilder{
		xs:       xs,
		target:   residual,
		maxDepth: params.MaxDepth,
		minLeaf:  params.MinLeaf,
	}
	switch family {
	case FamilyGBExact:
		builder.finder = &exactFinder{xs: xs, target: residual, minLeaf: params.MinLeaf}
	case FamilyGBHist:
		builder.finder = newHistFinder(xs, residual, allIdx, params.Bins, params.MinLeaf)
	}

	rng := rand.New(rand.NewSource(seed))
	sampleSize := n
	if params.Subsample > 0 && params.Subsample < 1 {
		sampleSize = int(math.Ceil(params.Subsample * float64(n)))
	}

	gb := &GradientBoost{
		FamilyName:   family,
		Base:         base,
		LearningRate: params.LearningRate,
		Trees:        make([]Tree, 0, params.Rounds),
	}

	score := make([]float64, n)
	for i := range score {
		score[i] = base
	}

	for round := 0; round < params.Rounds; round++ {
		idx := allIdx
		if sampleSize < n {
			idx = subsample(rng, n, sampleSize)
		}

		tree := builder.buildTree(idx)
		gb.Trees = append(gb.Trees, tree)

		for i := range xs {
			score[i] += gb.LearningRate * tree.Evaluate(xs[i])
			residual[i] = target[i] - score[i]
		}
	}

	return gb, nil
}

// subsample draws size distinct indices from [0,n), sorted for deterministic
// iteration order downstream.
func subsample(rng *rand.Rand, n, size int) []int {
	perm := rng.Perm(n)
	idx := perm[:size]
	sort.Ints(idx)
	return idx
}
