// pkg/streamtree/tree.go
// Package streamtree implements the streaming EM-tree: a fixed-shape tree
// wrapped around accumulators instead of stored members, so a pass over an
// arbitrarily long stream of objects can refine cluster means in bounded
// memory.
package streamtree

import (
	"errors"
	"math"
	"sync"

	"vtree/pkg/treenode"
)

// ErrEmptySeed is returned by NewFromNode when the source tree has no
// internal structure to copy: a bare root leaf carries nothing for the
// streaming tree to route against.
var ErrEmptySeed = errors.New("streamtree: source tree has no internal structure")

// AccumulatorKey is the streaming counterpart of a plain centroid key: a
// leaf-level key additionally holds a running accumulator, an item count,
// a since-last-update count, and the running sum of squared distances of
// everything routed to it. Internal-level keys carry the same shape but
// their Acc/Count/CountLastPass/SSE fields stay at their zero values:
// Insert and Visit never touch them, and Update rewrites only their Key.
type AccumulatorKey[T, A any] struct {
	Key           *T
	Acc           A
	Count         int
	CountLastPass int
	SSE           float64
	mu            sync.Mutex
}

// Ops bundles the distance, cloning, and accumulator functions the
// streaming tree needs for a (payload T, accumulator A) pair.
type Ops[T, A any] struct {
	// Dist computes the (possibly squared) distance used for nearest-key
	// routing, matching the batch clusterers' optimizer.Distance.
	Dist func(a, b *T) float64
	// Clone copies a payload value, used when deep-copying a seed tree.
	Clone func(*T) *T
	// NewAccumulator allocates a zeroed accumulator.
	NewAccumulator func() A
	// Accumulate folds v into acc in place.
	Accumulate func(acc A, v *T)
	// MergeInto adds src into dst in place.
	MergeInto func(dst, src A)
	// Flatten overwrites result with the majority/mean implied by acc
	// over count observations.
	Flatten func(result *T, acc A, count int) error
}

// Tree is a streaming EM-tree over payload type T with accumulator type A.
type Tree[T, A any] struct {
	ops  Ops[T, A]
	root *treenode.Node[AccumulatorKey[T, A]]
}

// NewFromNode deep-copies only the internal structure of src: every
// internal key becomes an AccumulatorKey whose child is itself copied
// recursively, while a key whose child is a raw-data leaf in src becomes a
// leaf-level AccumulatorKey (with a zeroed accumulator) held directly by
// the copy of src's parent node. The member data in src's leaves is
// discarded -- the streaming tree never stores it.
func NewFromNode[T, A any](src *treenode.Node[T], ops Ops[T, A]) (*Tree[T, A], error) {
	if src == nil || src.IsLeaf() {
		return nil, ErrEmptySeed
	}
	root := deepCopy(src, ops)
	return &Tree[T, A]{ops: ops, root: root}, nil
}

func deepCopy[T, A any](src *treenode.Node[T], ops Ops[T, A]) *treenode.Node[AccumulatorKey[T, A]] {
	dst := treenode.New[AccumulatorKey[T, A]]()
	dst.Owns = true
	for i := 0; i < src.Size(); i++ {
		child := src.Child(i)
		keyCopy := ops.Clone(src.Key(i))
		if child.IsLeaf() {
			dst.Add(&AccumulatorKey[T, A]{Key: keyCopy, Acc: ops.NewAccumulator()})
			continue
		}
		ak := &AccumulatorKey[T, A]{Key: keyCopy}
		dst.AddChild(ak, deepCopy(child, ops))
	}
	return dst
}

// Root returns the streaming tree's root node.
func (t *Tree[T, A]) Root() *treenode.Node[AccumulatorKey[T, A]] { return t.root }

func nearestIndex[T, A any](ops Ops[T, A], n *treenode.Node[AccumulatorKey[T, A]], obj *T) (int, float64) {
	best := 0
	bestDist := ops.Dist(obj, n.Key(0).Key)
	for i := 1; i < n.Size(); i++ {
		d := ops.Dist(obj, n.Key(i).Key)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best, bestDist
}

// Insert descends obj by nearest-key routing and, at the reached leaf key,
// accumulates obj's squared distance into SSE, folds obj into the
// accumulator, and bumps Count and CountLastPass. The leaf key's mutex
// serializes concurrent inserts landing on the same key.
func (t *Tree[T, A]) Insert(obj *T) {
	t.insertNode(t.root, obj)
}

func (t *Tree[T, A]) insertNode(n *treenode.Node[AccumulatorKey[T, A]], obj *T) {
	idx, dist := nearestIndex(t.ops, n, obj)
	if n.IsLeaf() {
		key := n.Key(idx)
		key.mu.Lock()
		key.SSE += dist * dist
		t.ops.Accumulate(key.Acc, obj)
		key.Count++
		key.CountLastPass++
		key.mu.Unlock()
		return
	}
	t.insertNode(n.Child(idx), obj)
}

// VisitFunc is called once per level along a Visit descent with the level
// (root's children are level 1), the object being routed, the key it was
// routed to at that level, and the distance between them.
type VisitFunc[T any] func(level int, obj *T, clusterKey *T, distance float64)

// Visit performs the same nearest-key descent as Insert but never touches
// the accumulator: at the reached leaf it still updates SSE, Count and
// CountLastPass (internal keys are left untouched, matching the read-only
// treatment of internal AccumulatorKeys during insert/visit), and it calls
// visit at every level along the path for reporting.
func (t *Tree[T, A]) Visit(obj *T, visit VisitFunc[T]) {
	t.visitNode(t.root, obj, 1, visit)
}

func (t *Tree[T, A]) visitNode(n *treenode.Node[AccumulatorKey[T, A]], obj *T, level int, visit VisitFunc[T]) {
	idx, dist := nearestIndex(t.ops, n, obj)
	key := n.Key(idx)
	if visit != nil {
		visit(level, obj, key.Key, dist)
	}
	if n.IsLeaf() {
		key.mu.Lock()
		key.SSE += dist * dist
		key.Count++
		key.CountLastPass++
		key.mu.Unlock()
		return
	}
	t.visitNode(n.Child(idx), obj, level+1, visit)
}

// Update recomputes every key bottom-up from accumulators: a leaf key is
// flattened against its own Acc/Count, an internal key is flattened
// against the merged Acc/Count of its entire subtree. Accumulators and
// per-pass counters are left untouched; call ClearAccumulators and/or
// ClearCountLastPassAndSSE afterwards if the next pass should start fresh.
func (t *Tree[T, A]) Update() error {
	_, _, err := t.updateNode(t.root)
	return err
}

func (t *Tree[T, A]) updateNode(n *treenode.Node[AccumulatorKey[T, A]]) (A, int, error) {
	subtreeAcc := t.ops.NewAccumulator()
	subtreeCount := 0
	for i := 0; i < n.Size(); i++ {
		key := n.Key(i)
		var acc A
		var count int
		if n.IsLeaf() {
			acc, count = key.Acc, key.Count
		} else {
			childAcc, childCount, err := t.updateNode(n.Child(i))
			if err != nil {
				return subtreeAcc, subtreeCount, err
			}
			acc, count = childAcc, childCount
		}
		if count > 0 {
			if err := t.ops.Flatten(key.Key, acc, count); err != nil {
				return subtreeAcc, subtreeCount, err
			}
		}
		t.ops.MergeInto(subtreeAcc, acc)
		subtreeCount += count
	}
	return subtreeAcc, subtreeCount, nil
}

// Prune removes every leaf key with zero Count and every subtree whose
// total Count is zero, compacting as it goes, and reports how many keys
// (leaf or internal) were removed.
func (t *Tree[T, A]) Prune() int {
	removed, _ := t.pruneNode(t.root)
	return removed
}

func (t *Tree[T, A]) pruneNode(n *treenode.Node[AccumulatorKey[T, A]]) (removed, total int) {
	if n.IsLeaf() {
		for i := 0; i < n.Size(); i++ {
			if c := n.Key(i).Count; c == 0 {
				n.Remove(i)
				removed++
			} else {
				total += c
			}
		}
		n.FinalizeRemovals()
		return removed, total
	}
	for i := 0; i < len(n.Children()); i++ {
		childRemoved, childTotal := t.pruneNode(n.Child(i))
		removed += childRemoved
		if childTotal == 0 {
			n.Remove(i)
			removed++
		} else {
			total += childTotal
		}
	}
	n.FinalizeRemovals()
	return removed, total
}

// ClearAccumulators resets every leaf key's accumulator to zero.
func (t *Tree[T, A]) ClearAccumulators() { clearAccumulators(t.root, t.ops) }

func clearAccumulators[T, A any](n *treenode.Node[AccumulatorKey[T, A]], ops Ops[T, A]) {
	if n.IsLeaf() {
		for i := 0; i < n.Size(); i++ {
			n.Key(i).Acc = ops.NewAccumulator()
		}
		return
	}
	for _, child := range n.Children() {
		clearAccumulators(child, ops)
	}
}

// ClearCountLastPassAndSSE resets every leaf key's CountLastPass and SSE
// to zero, leaving the running Count and accumulator untouched.
func (t *Tree[T, A]) ClearCountLastPassAndSSE() { clearCountLastPassAndSSE(t.root) }

func clearCountLastPassAndSSE[T, A any](n *treenode.Node[AccumulatorKey[T, A]]) {
	if n.IsLeaf() {
		for i := 0; i < n.Size(); i++ {
			key := n.Key(i)
			key.CountLastPass = 0
			key.SSE = 0
		}
		return
	}
	for _, child := range n.Children() {
		clearCountLastPassAndSSE(child)
	}
}

// RMSE returns the root-mean-squared distance of every item routed to a
// leaf key since that key's SSE/CountLastPass were last cleared (or since
// the tree was built, if never cleared).
func (t *Tree[T, A]) RMSE() float64 {
	sse, _, lastPass := leafStats(t.root)
	if lastPass == 0 {
		return 0
	}
	return math.Sqrt(sse / float64(lastPass))
}

func leafStats[T, A any](n *treenode.Node[AccumulatorKey[T, A]]) (sse float64, count, lastPass int) {
	if n.IsLeaf() {
		for i := 0; i < n.Size(); i++ {
			key := n.Key(i)
			sse += key.SSE
			count += key.Count
			lastPass += key.CountLastPass
		}
		return sse, count, lastPass
	}
	for _, child := range n.Children() {
		s, c, l := leafStats(child)
		sse += s
		count += c
		lastPass += l
	}
	return sse, count, lastPass
}

// ObjCount returns the total number of items routed to a leaf key across
// the tree's lifetime (the streaming counterpart of the batch trees'
// ObjCount, since the streaming tree retains no member data of its own).
func (t *Tree[T, A]) ObjCount() int {
	_, count, _ := leafStats(t.root)
	return count
}

// ClusterCount returns the number of leaf-level keys in the tree, i.e. the
// number of clusters the streaming tree currently routes to.
func (t *Tree[T, A]) ClusterCount() int { return clusterCount(t.root) }

func clusterCount[T, A any](n *treenode.Node[AccumulatorKey[T, A]]) int {
	if n.IsLeaf() {
		return n.Size()
	}
	total := 0
	for i := 0; i < n.Size(); i++ {
		total += clusterCount(n.Child(i))
	}
	return total
}

// ClusterCountAtDepth returns the number of keys held at the given depth
// (root's own keys are depth 1).
func (t *Tree[T, A]) ClusterCountAtDepth(depth int) int { return clusterCountAtDepth(t.root, depth) }

func clusterCountAtDepth[T, A any](n *treenode.Node[AccumulatorKey[T, A]], depth int) int {
	if depth == 1 {
		return n.Size()
	}
	if n.IsLeaf() {
		return 0
	}
	total := 0
	for i := 0; i < n.Size(); i++ {
		total += clusterCountAtDepth(n.Child(i), depth-1)
	}
	return total
}

// MaxLevelCount returns the depth of the tree's deepest leaf.
func (t *Tree[T, A]) MaxLevelCount() int { return maxLevelCount(t.root) }

func maxLevelCount[T, A any](n *treenode.Node[AccumulatorKey[T, A]]) int {
	if n.IsLeaf() {
		return 1
	}
	max := 0
	for _, child := range n.Children() {
		if d := maxLevelCount(child); d > max {
			max = d
		}
	}
	return max + 1
}
