package regressor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTreeEvaluate(t *testing.T) {
	// x[0] < 5 -> 1.0, else x[1] < 2 -> 2.0, else 3.0
	tree := Tree{
		Nodes: []Node{
			{FeatureIndex: 0, Threshold: 5, LeftChild: 0, LeftIsLeaf: true, RightChild: 1},
			{FeatureIndex: 1, Threshold: 2, LeftChild: 1, LeftIsLeaf: true, RightChild: 2, RightIsLeaf: true},
		},
		Outputs: []float64{1, 2, 3},
		Depth:   1,
	}

	assert.Equal(t, 1.0, tree.Evaluate([]float64{4, 0}))
	assert.Equal(t, 2.0, tree.Evaluate([]float64{6, 1}))
	assert.Equal(t, 3.0, tree.Evaluate([]float64{6, 2}))
}

func TestTreeSingleLeaf(t *testing.T) {
	tree := Tree{Outputs: []float64{42}}
	assert.Equal(t, 42.0, tree.Evaluate([]float64{1, 2, 3}))
}

func TestTreeBuilderSeparatesClusters(t *testing.T) {
	// Two clean clusters on feature 0; the builder must find the boundary.
	var xs [][]float64
	var target []float64
	for i := 0; i < 10; i++ {
		xs = append(xs, []float64{float64(i)})
		target = append(target, 10)
	}
	for i := 10; i < 20; i++ {
		xs = append(xs, []float64{float64(i)})
		target = append(target, 100)
	}

	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}

	builder := &treeBuilder{
		xs:       xs,
		target:   target,
		maxDepth: 3,
		minLeaf:  2,
		finder:   &exactFinder{xs: xs, target: target, minLeaf: 2},
	}
	tree := builder.buildTree(idx)

	assert.InDelta(t, 10, tree.Evaluate([]float64{0}), 1e-9)
	assert.InDelta(t, 100, tree.Evaluate([]float64{19}), 1e-9)
}
