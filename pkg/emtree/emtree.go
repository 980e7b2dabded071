// pkg/emtree/emtree.go
// Package emtree implements the fixed-shape EM-tree hierarchical clusterer:
// a tree is seeded once to a target branching factor and depth, then
// refined in place by repeated rearrange/prune/rebuild passes (an
// expectation-maximization step over the whole structure).
package emtree

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"vtree/pkg/kmeans"
	"vtree/pkg/optimizer"
	"vtree/pkg/seed"
	"vtree/pkg/treenode"
)

// Tree is a fixed-shape hierarchical clusterer over values of type T.
type Tree[T any] struct {
	opt       optimizer.Optimizer[T]
	seeder    seed.Seeder[T]
	clone     func(*T) *T
	branching int
	root      *treenode.Node[T]
}

// New builds an empty EM-tree that will split every node into branching
// children when Seed is called.
func New[T any](opt optimizer.Optimizer[T], seeder seed.Seeder[T], clone func(*T) *T, branching int) *Tree[T] {
	return &Tree[T]{opt: opt, seeder: seeder, clone: clone, branching: branching, root: treenode.New[T]()}
}

// FromRoot wraps an already-built tree (e.g. one seeded by a different
// process) so EMStep/Rearrange/Prune can refine it in place.
func FromRoot[T any](opt optimizer.Optimizer[T], seeder seed.Seeder[T], clone func(*T) *T, root *treenode.Node[T]) *Tree[T] {
	return &Tree[T]{opt: opt, seeder: seeder, clone: clone, branching: -1, root: root}
}

// Root returns the tree's root node.
func (t *Tree[T]) Root() *treenode.Node[T] { return t.root }

// Seed builds the initial tree shape by recursively k-means splitting data
// into branching-way clusters down to depth levels, fanning the recursive
// calls for a node's children out across goroutines.
func (t *Tree[T]) Seed(ctx context.Context, data []*T, depth int) error {
	t.root.AddAll(data)
	return t.seedNode(ctx, t.root, depth)
}

func (t *Tree[T]) seedNode(ctx context.Context, current *treenode.Node[T], depth int) error {
	if depth == 1 {
		return nil
	}
	km := kmeans.New[T](t.opt, t.seeder, t.clone, kmeans.Config{K: t.branching, MaxIters: 1})
	clusters, err := km.Cluster(ctx, current.Keys())
	if err != nil {
		return err
	}
	current.ClearKeysAndChildren()

	children := make([]*treenode.Node[T], len(clusters))
	for i, c := range clusters {
		child := treenode.New[T]()
		child.AddAll(c.Nearest())
		current.AddChild(c.Centroid(), child)
		children[i] = child
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			return t.seedNode(gctx, child, depth-1)
		})
	}
	return g.Wait()
}

// SeedSingleThreaded builds the initial tree shape sequentially, splitting
// each level of the tree into splits[level] clusters. updateMeans controls
// whether the per-node KMeans run performs one refinement iteration
// (true, the usual case) or only the initial assignment (false).
func (t *Tree[T]) SeedSingleThreaded(ctx context.Context, data []*T, splits []int, updateMeans bool) error {
	t.root.AddAll(data)
	maxIters := 1
	if !updateMeans {
		maxIters = 0
	}
	return t.seedSingleThreadedNode(ctx, t.root, splits, maxIters)
}

func (t *Tree[T]) seedSingleThreadedNode(ctx context.Context, current *treenode.Node[T], splits []int, maxIters int) error {
	if len(splits) == 0 {
		return nil
	}
	km := kmeans.New[T](t.opt, t.seeder, t.clone, kmeans.Config{K: splits[0], MaxIters: maxIters})
	clusters, err := km.Cluster(ctx, current.Keys())
	if err != nil {
		return err
	}
	current.ClearKeysAndChildren()
	for _, c := range clusters {
		child := treenode.New[T]()
		child.AddAll(c.Nearest())
		current.AddChild(c.Centroid(), child)
	}
	for _, child := range current.Children() {
		if err := t.seedSingleThreadedNode(ctx, child, splits[1:], maxIters); err != nil {
			return err
		}
	}
	return nil
}

// EMStep performs one full refinement pass: pull every object out and push
// it back down to its nearest leaf (Rearrange), repeatedly prune empty
// subtrees, then recompute every internal centroid bottom-up
// (RebuildInternal).
func (t *Tree[T]) EMStep() {
	t.Rearrange()
	for t.Prune() > 0 {
	}
	t.RebuildInternal()
}

// EMStepReplace performs one refinement pass over a new data set: every
// object currently in the tree is discarded and data is pushed down in its
// place, followed by the same prune/rebuild sequence as EMStep.
func (t *Tree[T]) EMStepReplace(data []*T) {
	t.Replace(data)
	for t.Prune() > 0 {
	}
	t.RebuildInternal()
}

// Replace discards every object currently held by the tree's leaves and
// pushes data down in their place, following existing centroids without
// updating them.
func (t *Tree[T]) Replace(data []*T) {
	var removed []*T
	t.removeData(t.root, &removed)
	for _, v := range data {
		t.pushDownNoUpdate(t.root, v)
	}
}

// Rearrange pulls every object out of the tree's leaves and pushes each one
// back down via nearest-centroid routing, without altering any centroid.
// Objects whose nearest leaf is unchanged end up back where they started;
// objects that have drifted move to a better-fitting leaf.
func (t *Tree[T]) Rearrange() {
	var removed []*T
	t.removeData(t.root, &removed)
	for _, v := range removed {
		t.pushDownNoUpdate(t.root, v)
	}
}

// RearrangeInternal performs the same redistribution as Rearrange on whole
// subtrees instead of leaf objects: for each depth from 2 (the root's
// children) down to the parents of the leaves, it lifts every (key,
// subtree) pair hanging below the nodes at that depth and pushes each back
// down to the nearest node at that depth, pruning after each depth.
func (t *Tree[T]) RearrangeInternal() {
	for depth := 2; depth < t.MaxLevelCount(); depth++ {
		var removedKeys []*T
		var removedChildren []*treenode.Node[T]
		t.removeDataInternal(t.root, &removedKeys, &removedChildren, depth)
		for i := range removedKeys {
			t.pushDownNoUpdateInternal(t.root, removedKeys[i], removedChildren[i], depth)
		}
		t.Prune()
	}
}

// Prune removes empty leaf subtrees throughout the tree and reports how
// many were removed.
func (t *Tree[T]) Prune() int { return t.prune(t.root) }

func (t *Tree[T]) prune(n *treenode.Node[T]) int {
	if n.IsLeaf() {
		return 0
	}
	pruned := 0
	for i := 0; i < len(n.Children()); i++ {
		if n.Child(i).IsEmpty() {
			n.Remove(i)
			pruned++
		} else {
			pruned += t.prune(n.Child(i))
		}
	}
	n.FinalizeRemovals()
	return pruned
}

// RebuildInternal recomputes every internal centroid bottom-up: first the
// centroids directly above the leaves, then their parents, and so on up to
// the root's direct children.
func (t *Tree[T]) RebuildInternal() {
	for depth := t.LevelCount() - 1; depth >= 1; depth-- {
		t.rebuildInternal(t.root, depth)
	}
}

func (t *Tree[T]) rebuildInternal(n *treenode.Node[T], depth int) {
	if n.IsLeaf() {
		return
	}
	if depth == 1 {
		for i := 0; i < len(n.Children()); i++ {
			t.updatePrototype(n.Child(i), n.Key(i))
		}
		return
	}
	for _, child := range n.Children() {
		t.rebuildInternal(child, depth-1)
	}
}

func (t *Tree[T]) updatePrototype(child *treenode.Node[T], parentKey *T) {
	var weights []int
	if !child.IsLeaf() {
		weights = make([]int, len(child.Children()))
		for i, c := range child.Children() {
			weights[i] = objCount(c)
		}
	}
	_ = t.opt.Proto(parentKey, child.Keys(), weights)
}

func (t *Tree[T]) removeData(n *treenode.Node[T], data *[]*T) {
	if n.IsLeaf() {
		n.RemoveData(data)
		return
	}
	for _, child := range n.Children() {
		t.removeData(child, data)
	}
}

func (t *Tree[T]) removeDataInternal(n *treenode.Node[T], keys *[]*T, children *[]*treenode.Node[T], depth int) {
	if depth == 1 {
		n.RemoveDataWithChildren(keys, children)
		return
	}
	for _, child := range n.Children() {
		t.removeDataInternal(child, keys, children, depth-1)
	}
}

func (t *Tree[T]) pushDownNoUpdate(n *treenode.Node[T], v *T) {
	if n.IsLeaf() {
		n.Add(v)
		return
	}
	nearest := t.opt.Nearest(v, n.Keys()).Index
	t.pushDownNoUpdate(n.Child(nearest), v)
}

func (t *Tree[T]) pushDownNoUpdateInternal(n *treenode.Node[T], key *T, child *treenode.Node[T], depth int) {
	if depth == 1 {
		n.AddChild(key, child)
		return
	}
	nearest := t.opt.Nearest(key, n.Keys()).Index
	t.pushDownNoUpdateInternal(n.Child(nearest), key, child, depth-1)
}

// RMSE returns the root-mean-squared distance of every leaf object from the
// centroid key of the leaf that holds it.
func (t *Tree[T]) RMSE() float64 {
	sse := t.sumSquaredError(nil, t.root)
	n := t.ObjCount()
	if n == 0 {
		return 0
	}
	return math.Sqrt(sse / float64(n))
}

func (t *Tree[T]) sumSquaredError(parentKey *T, node *treenode.Node[T]) float64 {
	if node.IsLeaf() {
		var sum float64
		for _, key := range node.Keys() {
			d := t.opt.Dist(key, parentKey)
			sum += d * d
		}
		return sum
	}
	var sum float64
	for i := 0; i < node.Size(); i++ {
		sum += t.sumSquaredError(node.Key(i), node.Child(i))
	}
	return sum
}

// ObjCount returns the total number of data objects held across all leaves.
func (t *Tree[T]) ObjCount() int { return objCount(t.root) }

func objCount[T any](n *treenode.Node[T]) int {
	if n.IsLeaf() {
		return n.Size()
	}
	total := 0
	for _, child := range n.Children() {
		total += objCount(child)
	}
	return total
}

// ClusterCount returns the number of non-empty leaves in the tree.
func (t *Tree[T]) ClusterCount() int { return clusterCount(t.root) }

func clusterCount[T any](n *treenode.Node[T]) int {
	if n.IsLeaf() {
		if n.IsEmpty() {
			return 0
		}
		return 1
	}
	total := 0
	for _, child := range n.Children() {
		total += clusterCount(child)
	}
	return total
}

// LevelCount follows child 0 down from the root, returning the depth of
// that path (root leaf counts as depth 1).
func (t *Tree[T]) LevelCount() int { return levelCount(t.root) }

func levelCount[T any](n *treenode.Node[T]) int {
	if n.IsLeaf() {
		return 1
	}
	return levelCount(n.Child(0)) + 1
}

// MaxLevelCount returns the depth of the tree's deepest leaf.
func (t *Tree[T]) MaxLevelCount() int { return maxLevelCount(t.root) }

func maxLevelCount[T any](n *treenode.Node[T]) int {
	if n.IsLeaf() {
		return 1
	}
	max := 0
	for _, child := range n.Children() {
		if c := maxLevelCount(child); c > max {
			max = c
		}
	}
	return max + 1
}
