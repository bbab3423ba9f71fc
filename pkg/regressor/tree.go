package regressor

// Node is one splitting decision of the form "x[FeatureIndex] < Threshold".
// Child indices point into the tree's node list, or into the outputs list
// when the corresponding leaf flag is set.
type Node struct {
	FeatureIndex int     `json:"feature_index"`
	Threshold    float64 `json:"threshold"`
	LeftChild    int     `json:"left_child"`
	LeftIsLeaf   bool    `json:"left_is_leaf"`
	RightChild   int     `json:"right_child"`
	RightIsLeaf  bool    `json:"right_is_leaf"`
}

// Tree is a regression tree stored as a flat node list. A tree with no nodes
// is a single leaf.
type Tree struct {
	Nodes   []Node    `json:"nodes"`
	Outputs []float64 `json:"outputs"`
	Depth   int       `json:"depth"`
}

// Evaluate drops a feature vector down the tree and returns the output of
// the leaf it lands in.
func (t *Tree) Evaluate(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return t.Outputs[0]
	}
	cur := t.Nodes[0]
	for i := 0; i <= t.Depth; i++ {
		if x[cur.FeatureIndex] < cur.Threshold {
			if cur.LeftIsLeaf {
				return t.Outputs[cur.LeftChild]
			}
			cur = t.Nodes[cur.LeftChild]
		} else {
			if cur.RightIsLeaf {
				return t.Outputs[cur.RightChild]
			}
			cur = t.Nodes[cur.RightChild]
		}
	}
	// Depth bound makes this unreachable for well-formed trees.
	return t.Outputs[0]
}

// splitFinder locates the best split of a node's samples for one builder
// strategy. ok is false when no split improves on keeping the node whole.
type splitFinder interface {
	bestSplit(idx []int) (split, bool)
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

// treeBuilder grows a regression tree on the residual targets using a
// pluggable split strategy.
type treeBuilder struct {
	xs       [][]float64
	target   []float64
	maxDepth int
	minLeaf  int
	finder   splitFinder

	nodes   []Node
	outputs []float64
	depth   int
}

func (b *treeBuilder) buildTree(idx []int) Tree {
	b.nodes = nil
	b.outputs = nil
	b.depth = 0
	child, isLeaf := b.grow(idx, 0)
	if isLeaf {
		return Tree{Outputs: []float64{b.outputs[child]}}
	}
	return Tree{Nodes: b.nodes, Outputs: b.outputs, Depth: b.depth}
}

// grow returns the index of the created node (or leaf output) and whether it
// is a leaf.
func (b *treeBuilder) grow(idx []int, depth int) (int, bool) {
	if depth > b.depth {
		b.depth = depth
	}
	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		return b.leaf(idx), true
	}
	sp, ok := b.finder.bestSplit(idx)
	if !ok {
		return b.leaf(idx), true
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.xs[i][sp.feature] < sp.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.minLeaf || len(right) < b.minLeaf {
		return b.leaf(idx), true
	}

	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{FeatureIndex: sp.feature, Threshold: sp.threshold})

	lc, lLeaf := b.grow(left, depth+1)
	b.nodes[self].LeftChild = lc
	b.nodes[self].LeftIsLeaf = lLeaf

	rc, rLeaf := b.grow(right, depth+1)
	b.nodes[self].RightChild = rc
	b.nodes[self].RightIsLeaf = rLeaf

	return self, false
}

func (b *treeBuilder) leaf(idx []int) int {
	var sum float64
	for _, i := range idx {
		sum += b.target[i]
	}
	out := 0.0
	if len(idx) > 0 {
		out = sum / float64(len(idx))
	}
	b.outputs = append(b.outputs, out)
	return len(b.outputs) - 1
}
