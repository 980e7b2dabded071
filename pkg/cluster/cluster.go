// pkg/cluster/cluster.go
// Package cluster defines the Cluster type shared by KMeans, TSVQ, K-tree
// and EM-tree: a centroid paired with the data partition nearest to it.
package cluster

// Cluster pairs a centroid with the (non-owning) list of data points
// currently assigned to it. The centroid is owned elsewhere -- by a
// Seeder's output, or by the treenode.Node that holds it as a key -- never
// by the Cluster itself.
type Cluster[T any] struct {
	centroid *T
	nearest  []*T
}

// New creates a Cluster around the given centroid with an empty neighbor
// list.
func New[T any](centroid *T) *Cluster[T] {
	return &Cluster[T]{centroid: centroid}
}

// Centroid returns the cluster's centroid.
func (c *Cluster[T]) Centroid() *T { return c.centroid }

// Nearest returns the members currently assigned to this cluster.
func (c *Cluster[T]) Nearest() []*T { return c.nearest }

// AddNearest appends a member to this cluster's partition.
func (c *Cluster[T]) AddNearest(member *T) {
	c.nearest = append(c.nearest, member)
}

// ClearNearest empties the partition without touching the centroid.
func (c *Cluster[T]) ClearNearest() {
	c.nearest = c.nearest[:0]
}

// Size returns the number of members currently assigned.
func (c *Cluster[T]) Size() int { return len(c.nearest) }
