// pkg/kmeans/kmeans.go
// Package kmeans implements parallel Lloyd's-algorithm k-means clustering:
// seed, assign, recalculate centroids, repeat to convergence.
package kmeans

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"

	"vtree/pkg/cluster"
	"vtree/pkg/optimizer"
	"vtree/pkg/seed"
)

// assignChunkSize is the number of data points handed to each assign-phase
// task, matching the blocked_range grain size of the reference
// implementation.
const assignChunkSize = 1000

// updateChunkSize is the number of clusters handed to each
// recompute-centroid task.
const updateChunkSize = 2

// Config controls a single clustering run.
type Config struct {
	// K is the number of clusters to find.
	K int
	// MaxIters bounds the number of refinement iterations: -1 runs to
	// convergence, 0 only assigns after seeding, 1 assigns and recomputes
	// once, N>=1 performs at most N full iterations.
	MaxIters int
	// Eps is the minimum change in RMSE between successive iterations below
	// which the run is considered converged, checked in addition to the assignment-stability
	// criterion. Zero disables this early-out.
	Eps float64
	// EnforceNumClusters, when true and fewer than K non-empty clusters
	// result, reshuffles the data into exactly K clusters and re-assigns.
	EnforceNumClusters bool
}

// KMeans runs Lloyd's algorithm over data of type T using a pluggable
// distance/prototype/seeding strategy.
type KMeans[T any] struct {
	opt    optimizer.Optimizer[T]
	seeder seed.Seeder[T]
	clone  func(*T) *T
	cfg    Config

	centroids      []*T
	clusters       []*cluster.Cluster[T]
	nearest        []int
	weights        []int
	lastRMSE       float64
	iterationCount int
}

// New builds a KMeans clusterer from an optimizer (distance + prototype),
// a seeding strategy, a clone function for materializing owned centroids,
// and a configuration.
func New[T any](opt optimizer.Optimizer[T], seeder seed.Seeder[T], clone func(*T) *T, cfg Config) *KMeans[T] {
	return &KMeans[T]{opt: opt, seeder: seeder, clone: clone, cfg: cfg}
}

// Centroids returns the current centroid set.
func (k *KMeans[T]) Centroids() []*T { return k.centroids }

// NearestCentroids returns, for each data point passed to the last Cluster
// call, the index into Centroids of its nearest centroid.
func (k *KMeans[T]) NearestCentroids() []int { return k.nearest }

// IterationCount returns the number of refinement iterations performed by
// the last Cluster call.
func (k *KMeans[T]) IterationCount() int { return k.iterationCount }

// Cluster partitions data into up to cfg.K clusters and returns the
// non-empty ones. Clusters with no members are dropped from the result
// unless EnforceNumClusters salvages them via a random resplit.
//
// When K exceeds len(data), the usual assign/update loop has nothing to
// iterate: Cluster instead returns one singleton cluster per data point
// (fewer than K), or, if EnforceNumClusters, exactly K singleton clusters
// built by cycling over data.
func (k *KMeans[T]) Cluster(ctx context.Context, data []*T) ([]*cluster.Cluster[T], error) {
	if k.cfg.K > len(data) {
		return k.clusterFewerThanK(data), nil
	}
	if err := k.run(ctx, data, k.cfg.K); err != nil {
		return nil, err
	}
	final := k.finalizeClusters(ctx, data)
	return final, nil
}

func (k *KMeans[T]) clusterFewerThanK(data []*T) []*cluster.Cluster[T] {
	if len(data) == 0 {
		k.centroids = nil
		k.clusters = nil
		k.nearest = nil
		return nil
	}
	numClusters := len(data)
	if k.cfg.EnforceNumClusters {
		numClusters = k.cfg.K
	}
	k.centroids = make([]*T, numClusters)
	k.clusters = make([]*cluster.Cluster[T], numClusters)
	for i := 0; i < numClusters; i++ {
		item := data[i%len(data)]
		k.centroids[i] = k.clone(item)
		k.clusters[i] = cluster.New(k.centroids[i])
		k.clusters[i].AddNearest(item)
	}
	k.nearest = make([]int, len(data))
	for i := range data {
		k.nearest[i] = i % numClusters
	}
	k.iterationCount = 0
	return k.clusters
}

func (k *KMeans[T]) run(ctx context.Context, data []*T, numClusters int) error {
	k.iterationCount = 0
	centroids, err := k.seeder.Seed(data, numClusters, k.clone)
	if err != nil {
		return err
	}
	k.centroids = centroids
	k.clusters = make([]*cluster.Cluster[T], len(centroids))
	for i, c := range centroids {
		k.clusters[i] = cluster.New(c)
	}
	k.nearest = make([]int, len(data))

	if err := k.assign(ctx, data); err != nil {
		return err
	}
	if k.cfg.MaxIters == 0 {
		return nil
	}
	if err := k.recalculate(ctx); err != nil {
		return err
	}
	if k.cfg.MaxIters == 1 {
		return nil
	}

	converged := false
	k.iterationCount = 1
	prevRMSE := math.Inf(1)
	for !converged {
		converged = true
		if err := k.assignWithConvergence(ctx, data, &converged); err != nil {
			return err
		}
		if err := k.recalculate(ctx); err != nil {
			return err
		}
		k.iterationCount++
		if k.cfg.Eps > 0 {
			rmse := k.RMSE(data)
			if math.Abs(prevRMSE-rmse) < k.cfg.Eps {
				break
			}
			prevRMSE = rmse
		}
		if k.cfg.MaxIters != -1 && k.iterationCount >= k.cfg.MaxIters {
			break
		}
	}
	return nil
}

func (k *KMeans[T]) finalizeClusters(ctx context.Context, data []*T) []*cluster.Cluster[T] {
	final, empty := k.nonEmptyClusters()
	if empty && k.cfg.EnforceNumClusters {
		// resplit already performs the forced assignment (it calls
		// assignToClusters itself); only recompute centroids from that
		// forced partition afterwards. Re-running a real-distance assign
		// here would immediately discard the forced partition and can
		// collapse every point back onto a single cluster (e.g. when all
		// centroids still tie).
		k.resplit(data)
		_ = k.recalculate(ctx)
		final, _ = k.nonEmptyClusters()
	}
	return final
}

func (k *KMeans[T]) nonEmptyClusters() ([]*cluster.Cluster[T], bool) {
	final := make([]*cluster.Cluster[T], 0, len(k.clusters))
	empty := false
	for _, c := range k.clusters {
		if c.Size() > 0 {
			final = append(final, c)
		} else {
			empty = true
		}
	}
	return final, empty
}

// resplit randomly distributes data into exactly len(k.clusters) contiguous
// shuffled groups, one per existing cluster slot, so that EnforceNumClusters
// always produces K non-empty clusters regardless of how the data is
// distributed in space.
func (k *KMeans[T]) resplit(data []*T) {
	shuffled := make([]int, len(data))
	for i := range shuffled {
		shuffled[i] = i
	}
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	numClusters := len(k.clusters)
	for j, idx := range shuffled {
		k.nearest[idx] = j * numClusters / len(shuffled)
	}
	k.assignToClusters(data)
}

func (k *KMeans[T]) assign(ctx context.Context, data []*T) error {
	if err := k.assignParallel(ctx, data, nil); err != nil {
		return err
	}
	k.assignToClusters(data)
	return nil
}

func (k *KMeans[T]) assignWithConvergence(ctx context.Context, data []*T, converged *bool) error {
	if err := k.assignParallel(ctx, data, converged); err != nil {
		return err
	}
	k.assignToClusters(data)
	return nil
}

func (k *KMeans[T]) assignParallel(ctx context.Context, data []*T, converged *bool) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	anyChanged := false
	for start := 0; start < len(data); start += assignChunkSize {
		start := start
		end := start + assignChunkSize
		if end > len(data) {
			end = len(data)
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			localChanged := false
			for i := start; i < end; i++ {
				idx := nearestIndex(k.opt, data[i], k.centroids)
				if converged != nil && k.nearest[i] != idx {
					localChanged = true
				}
				k.nearest[i] = idx
			}
			if localChanged {
				mu.Lock()
				anyChanged = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if converged != nil && anyChanged {
		*converged = false
	}
	return nil
}

func nearestIndex[T any](opt optimizer.Optimizer[T], obj *T, candidates []*T) int {
	best := 0
	bestDist := opt.Dist(obj, candidates[0])
	for i := 1; i < len(candidates); i++ {
		d := opt.Dist(obj, candidates[i])
		if opt.Comp(d, bestDist) {
			bestDist = d
			best = i
		}
	}
	return best
}

func (k *KMeans[T]) assignToClusters(data []*T) {
	for _, c := range k.clusters {
		c.ClearNearest()
	}
	for i, d := range data {
		k.clusters[k.nearest[i]].AddNearest(d)
	}
}

func (k *KMeans[T]) recalculate(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(k.clusters); start += updateChunkSize {
		start := start
		end := start + updateChunkSize
		if end > len(k.clusters) {
			end = len(k.clusters)
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			for i := start; i < end; i++ {
				c := k.clusters[i]
				if c.Size() == 0 {
					continue
				}
				if err := k.opt.Proto(c.Centroid(), c.Nearest(), k.weights); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// RMSE computes the root-mean-squared distance of every point in data to
// its assigned centroid, using the nearest-centroid assignment from the
// most recent Cluster call.
func (k *KMeans[T]) RMSE(data []*T) float64 {
	var sum float64
	for i, d := range data {
		dist := k.opt.Dist(d, k.centroids[k.nearest[i]])
		sum += dist * dist
	}
	k.lastRMSE = math.Sqrt(sum / float64(len(data)))
	return k.lastRMSE
}
