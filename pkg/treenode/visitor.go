// pkg/treenode/visitor.go
package treenode

// Visitor is accepted by a tree's Visit method and called once per node
// encountered during the traversal.
type Visitor[K any] interface {
	Accept(n *Node[K])
}

// VisitorFunc adapts a plain function to the Visitor interface.
type VisitorFunc[K any] func(n *Node[K])

// Accept implements Visitor.
func (f VisitorFunc[K]) Accept(n *Node[K]) { f(n) }

// Walk performs a pre-order traversal of the subtree rooted at n, calling
// visitor.Accept on every node (leaf and internal).
func Walk[K any](n *Node[K], visitor Visitor[K]) {
	visitor.Accept(n)
	for _, child := range n.children {
		Walk(child, visitor)
	}
}

// ClusterCounter counts the number of leaf nodes (clusters) visited.
type ClusterCounter[K any] struct {
	count int
}

// Accept implements Visitor.
func (c *ClusterCounter[K]) Accept(n *Node[K]) {
	if n.IsLeaf() {
		c.count++
	}
}

// Count returns the number of leaves seen so far.
func (c *ClusterCounter[K]) Count() int { return c.count }

// ClusterHistogramCounter buckets leaf sizes into Buckets[size]++. Buckets
// starts with maxClusterSize+1 entries and grows when a larger leaf is seen.
type ClusterHistogramCounter[K any] struct {
	Buckets []int
}

// NewClusterHistogramCounter allocates a histogram with maxClusterSize+1
// buckets (indices 0..maxClusterSize).
func NewClusterHistogramCounter[K any](maxClusterSize int) *ClusterHistogramCounter[K] {
	return &ClusterHistogramCounter[K]{Buckets: make([]int, maxClusterSize+1)}
}

// Accept implements Visitor.
func (h *ClusterHistogramCounter[K]) Accept(n *Node[K]) {
	if !n.IsLeaf() {
		return
	}
	size := n.Size()
	if size >= len(h.Buckets) {
		// Grow rather than drop data silently; a fixed cap is a reporting
		// convenience, not an invariant.
		grown := make([]int, size+1)
		copy(grown, h.Buckets)
		h.Buckets = grown
	}
	h.Buckets[size]++
}
