// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package model

import (
	"sort"
)

// Node is one node of a regression tree. Leaves have Left == -1.
// Rows with x[Feature] <= Threshold go left.
type Node struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Value     float64
}

// Tree is a single regression tree stored as a flat node slice, root first.
type Tree struct {
	Nodes []Node
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = int(n.Left)
		} else {
			i = int(n.Right)
		}
	}
}

// Leaves returns the number of leaf nodes.
func (t *Tree) Leaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].Left < 0 {
			n++
		}
	}
	return n
}

type treeParams struct {
	numLeaves       int
	minChildSamples int
	maxDepth        int
	lambda          float64
	minHessian      float64
}

type growLeaf struct {
	node  int
	rows  []int
	depth int
	g, h  float64
	best  candidate
}

type candidate struct {
	ok        bool
	feature   int
	threshold float64
	gain      float64
}

// growTree fits one tree leaf-wise: at every step the leaf whose best split
// has the largest gain is split, until numLeaves is reached or no split
// improves the second-order objective.
func growTree(X [][]float64, grad, hess []float64, rows []int, p treeParams) Tree {
	t := Tree{Nodes: []Node{{Left: -1, Right: -1}}}

	root := newGrowLeaf(0, rows, 0, grad, hess)
	t.Nodes[0].Value = leafValue(root.g, root.h, p.lambda)
	root.best = bestSplit(X, grad, hess, root, p)

	leaves := []*growLeaf{root}
	for len(leaves) < p.numLeaves {
		bi := -1
		for i, l := range leaves {
			if l.best.ok && (bi < 0 || l.best.gain > leaves[bi].best.gain) {
				bi = i
			}
		}
		if bi < 0 {
			break
		}

		l := leaves[bi]
		var lrows, rrows []int
		for _, r := range l.rows {
			if X[r][l.best.feature] <= l.best.threshold {
				lrows = append(lrows, r)
			} else {
				rrows = append(rrows, r)
			}
		}

		li, ri := len(t.Nodes), len(t.Nodes)+1
		t.Nodes = append(t.Nodes, Node{Left: -1, Right: -1}, Node{Left: -1, Right: -1})
		parent := &t.Nodes[l.node]
		parent.Feature = l.best.feature
		parent.Threshold = l.best.threshold
		parent.Left = int32(li) //nolint:gosec // node count is bounded by numLeaves
		parent.Right = int32(ri) //nolint:gosec // node count is bounded by numLeaves

		left := newGrowLeaf(li, lrows, l.depth+1, grad, hess)
		right := newGrowLeaf(ri, rrows, l.depth+1, grad, hess)
		t.Nodes[li].Value = leafValue(left.g, left.h, p.lambda)
		t.Nodes[ri].Value = leafValue(right.g, right.h, p.lambda)
		left.best = bestSplit(X, grad, hess, left, p)
		right.best = bestSplit(X, grad, hess, right, p)

		leaves[bi] = left
		leaves = append(leaves, right)
	}
	return t
}

func newGrowLeaf(node int, rows []int, depth int, grad, hess []float64) *growLeaf {
	l := &growLeaf{node: node, rows: rows, depth: depth}
	for _, r := range rows {
		l.g += grad[r]
		l.h += hess[r]
	}
	return l
}

func bestSplit(X [][]float64, grad, hess []float64, l *growLeaf, p treeParams) candidate {
	var best candidate
	if p.maxDepth > 0 && l.depth >= p.maxDepth {
		return best
	}
	if len(l.rows) < 2*p.minChildSamples || len(l.rows) < 2 {
		return best
	}

	parent := score(l.g, l.h, p.lambda)
	width := len(X[l.rows[0]])
	idx := make([]int, len(l.rows))

	for f := 0; f < width; f++ {
		copy(idx, l.rows)
		sort.Slice(idx, func(a, b int) bool { return X[idx[a]][f] < X[idx[b]][f] })

		var gl, hl float64
		for i := 0; i < len(idx)-1; i++ {
			r := idx[i]
			gl += grad[r]
			hl += hess[r]

			cur, next := X[r][f], X[idx[i+1]][f]
			if cur == next {
				continue
			}
			nl, nr := i+1, len(idx)-i-1
			if nl < p.minChildSamples || nr < p.minChildSamples {
				continue
			}
			gr, hr := l.g-gl, l.h-hl
			if hl < p.minHessian || hr < p.minHessian {
				continue
			}
			gain := score(gl, hl, p.lambda) + score(gr, hr, p.lambda) - parent
			if gain > best.gain+1e-12 {
				best = candidate{ok: true, feature: f, threshold: (cur + next) / 2, gain: gain}
			}
		}
	}
	return best
}

func score(g, h, lambda float64) float64 {
	d := h + lambda
	if d <= 0 {
		return 0
	}
	return g * g / d
}

func leafValue(g, h, lambda float64) float64 {
	d := h + lambda
	if d <= 0 {
		return 0
	}
	return -g / d
}
