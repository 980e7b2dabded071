// pkg/tsvq/tsvq.go
// Package tsvq implements the top-down tree-structured vector quantizer:
// repeatedly k-means-split the data at each node until a fixed depth is
// reached.
package tsvq

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"vtree/pkg/kmeans"
	"vtree/pkg/optimizer"
	"vtree/pkg/seed"
	"vtree/pkg/treenode"
)

// Config controls tree shape and the KMeans run performed at every node.
type Config struct {
	// Branching is the number of children split out of each internal node.
	Branching int
	// Depth is the number of levels in the tree, root included; Depth==1
	// means the root stays a single leaf holding all data.
	Depth int
	// MaxIters is forwarded to the KMeans run at every node.
	MaxIters int
	// Eps is forwarded to the KMeans run at every node.
	Eps float64
}

// Tree is a top-down tree-structured vector quantizer over values of type T.
type Tree[T any] struct {
	opt    optimizer.Optimizer[T]
	seeder seed.Seeder[T]
	clone  func(*T) *T
	cfg    Config
	root   *treenode.Node[T]
}

// New builds an (unclustered) TSVQ tree.
func New[T any](opt optimizer.Optimizer[T], seeder seed.Seeder[T], clone func(*T) *T, cfg Config) *Tree[T] {
	return &Tree[T]{opt: opt, seeder: seeder, clone: clone, cfg: cfg, root: treenode.New[T]()}
}

// Root returns the tree's root node.
func (t *Tree[T]) Root() *treenode.Node[T] { return t.root }

// Cluster builds the tree over data, splitting recursively down to
// cfg.Depth levels.
func (t *Tree[T]) Cluster(ctx context.Context, data []*T) error {
	t.root.AddAll(data)
	return t.clusterNode(ctx, t.root, t.cfg.Depth)
}

func (t *Tree[T]) clusterNode(ctx context.Context, current *treenode.Node[T], depth int) error {
	if depth == 1 {
		return nil
	}
	km := kmeans.New[T](t.opt, t.seeder, t.clone, kmeans.Config{
		K:        t.cfg.Branching,
		MaxIters: t.cfg.MaxIters,
		Eps:      t.cfg.Eps,
	})
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
			return t.clusterNode(gctx, child, depth-1)
		})
	}
	return g.Wait()
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
		total += objCount[T](child)
	}
	return total
}

// ClusterCount returns the number of non-empty leaves (clusters) in the
// tree.
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
		total += clusterCount[T](child)
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

// MinLevelCount returns the depth of the tree's shallowest leaf.
func (t *Tree[T]) MinLevelCount() int { return minLevelCount(t.root) }

func minLevelCount[T any](n *treenode.Node[T]) int {
	if n.IsLeaf() {
		return 1
	}
	min := math.MaxInt
	for _, child := range n.Children() {
		if c := minLevelCount(child); c < min {
			min = c
		}
	}
	return min + 1
}
