// pkg/ktree/ktree.go
// Package ktree implements the incremental K-tree clusterer: a B-tree-style
// structure built one object at a time, where an overfull node is resolved
// by a 2-means split instead of a simple midpoint split.
package ktree

import (
	"context"
	"math"

	"vtree/pkg/kmeans"
	"vtree/pkg/optimizer"
	"vtree/pkg/seed"
	"vtree/pkg/treenode"
)

// Config controls tree order and the 2-means split behavior.
type Config struct {
	// Order is the maximum number of keys (m) a node may hold before an
	// Add triggers a split.
	Order int
	// ClustererMaxIters is forwarded to the 2-means split clusterer.
	ClustererMaxIters int
	// DelayedUpdates, when true, only refreshes an ancestor's centroid
	// along the insertion path every UpdateDelay insertions, trading
	// accuracy for insert throughput.
	DelayedUpdates bool
	// UpdateDelay is the insertion-count period used when DelayedUpdates
	// is set. Ignored otherwise.
	UpdateDelay int
}

// Tree is an incremental K-tree clusterer over values of type T.
type Tree[T any] struct {
	opt    optimizer.Optimizer[T]
	seeder seed.Seeder[T]
	clone  func(*T) *T
	cfg    Config
	root   *treenode.Node[T]
	added  int
}

// New builds an empty K-tree (a single leaf root).
func New[T any](opt optimizer.Optimizer[T], seeder seed.Seeder[T], clone func(*T) *T, cfg Config) *Tree[T] {
	if cfg.UpdateDelay == 0 {
		cfg.UpdateDelay = 1000
	}
	return &Tree[T]{opt: opt, seeder: seeder, clone: clone, cfg: cfg, root: treenode.New[T]()}
}

// Root returns the tree's root node. Add may replace the root with a new
// one when the existing root splits, so callers should re-fetch Root after
// every Add rather than caching the pointer.
func (t *Tree[T]) Root() *treenode.Node[T] { return t.root }

// splitResult mirrors a node split: either isSplit is false (no split
// occurred) or child1/child2 and key1/key2 describe the two halves.
type splitResult[T any] struct {
	isSplit        bool
	key1, key2     *T
	child1, child2 *treenode.Node[T]
}

// Add inserts obj into the tree, splitting nodes along the insertion path
// as needed and growing a new root if the split propagates all the way up.
func (t *Tree[T]) Add(ctx context.Context, obj *T) error {
	result, err := t.pushDown(ctx, t.root, obj)
	if err != nil {
		return err
	}
	if result.isSplit {
		newRoot := treenode.New[T]()
		newRoot.AddChild(result.key1, result.child1)
		newRoot.AddChild(result.key2, result.child2)
		t.root = newRoot
	}
	t.added++
	return nil
}

func (t *Tree[T]) pushDown(ctx context.Context, n *treenode.Node[T], obj *T) (splitResult[T], error) {
	if n.IsLeaf() {
		if n.Size() >= t.cfg.Order {
			return t.splitLeafNode(ctx, n, obj)
		}
		n.Add(obj)
		return splitResult[T]{}, nil
	}

	nearest := t.opt.Nearest(obj, n.Keys()).Index
	nearestKey := n.Key(nearest)
	nearestChild := n.Child(nearest)

	result, err := t.pushDown(ctx, nearestChild, obj)
	if err != nil {
		return splitResult[T]{}, err
	}

	if result.isSplit {
		if err := t.updatePrototype(result.child1, result.key1); err != nil {
			return splitResult[T]{}, err
		}
		if err := t.updatePrototype(result.child2, result.key2); err != nil {
			return splitResult[T]{}, err
		}
		if n.Size() >= t.cfg.Order {
			return t.splitInternalNode(ctx, n, result.child2, result.key2)
		}
		n.AddChild(result.key2, result.child2)
		return splitResult[T]{}, nil
	}

	if !t.cfg.DelayedUpdates || t.added%t.cfg.UpdateDelay == 0 {
		if err := t.updatePrototype(nearestChild, nearestKey); err != nil {
			return splitResult[T]{}, err
		}
	}
	return splitResult[T]{}, nil
}

func (t *Tree[T]) splitLeafNode(ctx context.Context, child *treenode.Node[T], obj *T) (splitResult[T], error) {
	tempKeys := append(append([]*T{}, child.Keys()...), obj)
	child.ClearKeysAndChildren()

	centroids, assignment, err := t.twoMeans(ctx, tempKeys)
	if err != nil {
		return splitResult[T]{}, err
	}

	node2 := treenode.New[T]()
	for i, key := range tempKeys {
		if assignment[i] == 0 {
			child.Add(key)
		} else {
			node2.Add(key)
		}
	}

	return splitResult[T]{isSplit: true, key1: centroids[0], key2: centroids[1], child1: child, child2: node2}, nil
}

func (t *Tree[T]) splitInternalNode(ctx context.Context, parent *treenode.Node[T], child *treenode.Node[T], obj *T) (splitResult[T], error) {
	tempKeys := append(append([]*T{}, parent.Keys()...), obj)
	tempChildren := append(append([]*treenode.Node[T]{}, parent.Children()...), child)
	parent.ClearKeysAndChildren()

	centroids, assignment, err := t.twoMeans(ctx, tempKeys)
	if err != nil {
		return splitResult[T]{}, err
	}

	node2 := treenode.New[T]()
	for i, key := range tempKeys {
		if assignment[i] == 0 {
			parent.AddChild(key, tempChildren[i])
		} else {
			node2.AddChild(key, tempChildren[i])
		}
	}

	return splitResult[T]{isSplit: true, key1: centroids[0], key2: centroids[1], child1: parent, child2: node2}, nil
}

// twoMeans clusters keys into exactly two groups, returning the two
// centroids and, for each input key, which centroid (0 or 1) it was
// assigned to.
func (t *Tree[T]) twoMeans(ctx context.Context, keys []*T) ([]*T, []int, error) {
	km := kmeans.New[T](t.opt, t.seeder, t.clone, kmeans.Config{
		K:                  2,
		MaxIters:           t.cfg.ClustererMaxIters,
		EnforceNumClusters: true,
	})
	if _, err := km.Cluster(ctx, keys); err != nil {
		return nil, nil, err
	}
	return km.Centroids(), km.NearestCentroids(), nil
}

func (t *Tree[T]) updatePrototype(child *treenode.Node[T], parentKey *T) error {
	var weights []int
	if !child.IsLeaf() {
		weights = make([]int, len(child.Children()))
		for i, c := range child.Children() {
			weights[i] = objCount(c)
		}
	}
	return t.opt.Proto(parentKey, child.Keys(), weights)
}

// EMStep performs one refinement pass: Rearrange, repeated Prune, then
// RebuildInternal.
func (t *Tree[T]) EMStep() {
	t.Rearrange()
	for t.Prune() > 0 {
	}
	t.RebuildInternal()
}

// Rearrange pulls every object out of the tree's leaves and pushes each one
// back down via nearest-centroid routing, without splitting or updating any
// centroid.
func (t *Tree[T]) Rearrange() {
	var removed []*T
	t.removeData(t.root, &removed)
	for _, v := range removed {
		t.pushDownNoUpdate(t.root, v)
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

func (t *Tree[T]) removeData(n *treenode.Node[T], data *[]*T) {
	if n.IsLeaf() {
		n.RemoveData(data)
		return
	}
	for _, child := range n.Children() {
		t.removeData(child, data)
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

// RebuildInternal recomputes every internal centroid bottom-up.
func (t *Tree[T]) RebuildInternal() {
	for depth := t.LevelCount() - 1; depth >= 1; depth-- {
		_ = t.rebuildInternal(t.root, depth)
	}
}

func (t *Tree[T]) rebuildInternal(n *treenode.Node[T], depth int) error {
	if n.IsLeaf() {
		return nil
	}
	if depth == 1 {
		for i := 0; i < len(n.Children()); i++ {
			if err := t.updatePrototype(n.Child(i), n.Key(i)); err != nil {
				return err
			}
		}
		return nil
	}
	for _, child := range n.Children() {
		if err := t.rebuildInternal(child, depth-1); err != nil {
			return err
		}
	}
	return nil
}

// Visit performs a pre-order traversal of the whole tree.
func (t *Tree[T]) Visit(visitor treenode.Visitor[T]) {
	treenode.Walk(t.root, visitor)
}

// VisitDepth calls visitor only on nodes at the given depth (the root
// itself is depth 1).
func (t *Tree[T]) VisitDepth(visitor treenode.Visitor[T], depth int) {
	t.visitDepth(visitor, t.root, depth)
}

func (t *Tree[T]) visitDepth(visitor treenode.Visitor[T], n *treenode.Node[T], depth int) {
	if depth == 1 {
		visitor.Accept(n)
		return
	}
	if n.IsLeaf() {
		return
	}
	for _, child := range n.Children() {
		t.visitDepth(visitor, child, depth-1)
	}
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

// ClusterCountAtDepth returns the number of non-empty direct children of the
// nodes at the given depth (the root itself is depth 1).
func (t *Tree[T]) ClusterCountAtDepth(depth int) int {
	return clusterCountAtDepth(t.root, depth)
}

func clusterCountAtDepth[T any](n *treenode.Node[T], depth int) int {
	if depth == 1 {
		count := 0
		for _, child := range n.Children() {
			if !child.IsEmpty() {
				count++
			}
		}
		return count
	}
	total := 0
	for _, child := range n.Children() {
		total += clusterCountAtDepth(child, depth-1)
	}
	return total
}

// EmptyClusterCount returns the number of empty leaves in the tree.
func (t *Tree[T]) EmptyClusterCount() int { return emptyClusterCount(t.root) }

func emptyClusterCount[T any](n *treenode.Node[T]) int {
	if n.IsLeaf() {
		if n.Size() == 0 {
			return 1
		}
		return 0
	}
	total := 0
	for _, child := range n.Children() {
		total += emptyClusterCount(child)
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
