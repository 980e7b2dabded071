// pkg/streamtree/streamtree_test.go
package streamtree

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"vtree/pkg/bitvec"
	"vtree/pkg/optimizer"
	"vtree/pkg/seed"
	"vtree/pkg/treenode"
	"vtree/pkg/tsvq"
)

type point struct{ x, y float64 }

func clonePoint(p *point) *point {
	c := *p
	return &c
}

func euclideanSq(a, b *point) float64 {
	dx, dy := a.x-b.x, a.y-b.y
	return dx*dx + dy*dy
}

func meanPrototype(result *point, members []*point, weights []int) error {
	var sx, sy, total float64
	if len(weights) != 0 {
		for i, m := range members {
			w := float64(weights[i])
			sx += m.x * w
			sy += m.y * w
			total += w
		}
	} else {
		for _, m := range members {
			sx += m.x
			sy += m.y
		}
		total = float64(len(members))
	}
	result.x, result.y = sx/total, sy/total
	return nil
}

// pointAcc is a pointer-typed accumulator, so Ops functions that take A by
// value still mutate the shared underlying struct.
type pointAcc struct {
	sx, sy float64
	n      int
}

func pointOps() Ops[point, *pointAcc] {
	return Ops[point, *pointAcc]{
		Dist:           euclideanSq,
		Clone:          clonePoint,
		NewAccumulator: func() *pointAcc { return &pointAcc{} },
		Accumulate: func(acc *pointAcc, v *point) {
			acc.sx += v.x
			acc.sy += v.y
			acc.n++
		},
		MergeInto: func(dst, src *pointAcc) {
			dst.sx += src.sx
			dst.sy += src.sy
			dst.n += src.n
		},
		Flatten: func(result *point, acc *pointAcc, count int) error {
			result.x = acc.sx / float64(count)
			result.y = acc.sy / float64(count)
			return nil
		},
	}
}

// buildSeedTree constructs a small two-level tree by hand: a root with
// four children, each a leaf holding one centroid-less placeholder key, so
// deepCopy turns each child into a flat leaf-level AccumulatorKey on the
// root.
func buildSeedTree() *treenode.Node[point] {
	root := treenode.New[point]()
	centers := []point{{0, 0}, {10, 0}, {0, 10}, {10, 10}}
	for _, c := range centers {
		leaf := treenode.New[point]()
		leaf.Add(&point{c.x, c.y})
		key := c
		root.AddChild(&key, leaf)
	}
	return root
}

func TestNewFromNodeRejectsLeafRoot(t *testing.T) {
	_, err := NewFromNode[point, *pointAcc](treenode.New[point](), pointOps())
	if err != ErrEmptySeed {
		t.Fatalf("expected ErrEmptySeed, got %v", err)
	}
}

func TestNewFromNodeCopiesStructureOnly(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	if got := tr.ClusterCount(); got != 4 {
		t.Errorf("expected 4 leaf-level keys, got %d", got)
	}
	if got := tr.ObjCount(); got != 0 {
		t.Errorf("expected 0 streamed objects before any insert, got %d", got)
	}
}

func TestInsertAccumulatesAtNearestLeaf(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	tr.Insert(&point{0.1, 0.1})
	tr.Insert(&point{0.2, -0.1})
	if got := tr.ObjCount(); got != 2 {
		t.Errorf("expected 2 streamed objects, got %d", got)
	}
	if got := tr.ClusterCountAtDepth(1); got != 4 {
		t.Errorf("expected 4 keys at depth 1, got %d", got)
	}
}

func TestUpdateFlattensLeafMeans(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	for _, v := range []point{{-1, -1}, {1, 1}, {0, 2}} {
		v := v
		tr.Insert(&v)
	}
	if err := tr.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	root := tr.Root()
	var found bool
	for i := 0; i < root.Size(); i++ {
		key := root.Key(i)
		if key.Count == 3 {
			found = true
			wantX, wantY := 0.0, 2.0/3.0
			if math.Abs(key.Key.x-wantX) > 1e-9 || math.Abs(key.Key.y-wantY) > 1e-9 {
				t.Errorf("flattened mean = (%v, %v), want (%v, %v)", key.Key.x, key.Key.y, wantX, wantY)
			}
		}
	}
	if !found {
		t.Fatal("expected one leaf key to have absorbed all 3 inserts")
	}
}

func TestPruneRemovesUntouchedLeaves(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	// Only the two clusters near (0,0) and (10,0) are ever touched.
	tr.Insert(&point{0.1, 0.1})
	tr.Insert(&point{9.9, 0.1})

	pruned := tr.Prune()
	if pruned != 2 {
		t.Errorf("expected 2 pruned keys, got %d", pruned)
	}
	if got := tr.ClusterCount(); got != 2 {
		t.Errorf("expected 2 clusters remaining, got %d", got)
	}
}

func TestVisitDoesNotAccumulate(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	var levels []int
	tr.Visit(&point{0.1, 0.1}, func(level int, obj, clusterKey *point, distance float64) {
		levels = append(levels, level)
	})
	if len(levels) != 1 {
		t.Fatalf("expected exactly 1 level visited on a single-level tree, got %d", len(levels))
	}
	if got := tr.ObjCount(); got != 1 {
		t.Errorf("Visit should still bump the leaf's Count, got ObjCount=%d", got)
	}
	root := tr.Root()
	for i := 0; i < root.Size(); i++ {
		if root.Key(i).Acc.n != 0 {
			t.Error("Visit must not touch the accumulator")
		}
	}
}

func TestClearAccumulatorsZeroesLeafAcc(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	tr.Insert(&point{0.1, 0.1})
	tr.ClearAccumulators()
	root := tr.Root()
	for i := 0; i < root.Size(); i++ {
		if root.Key(i).Acc.n != 0 {
			t.Error("expected accumulator reset to zero")
		}
	}
	if got := tr.ObjCount(); got != 1 {
		t.Errorf("ClearAccumulators must not touch Count, got ObjCount=%d", got)
	}
}

func TestClearCountLastPassAndSSEResetsOnlyThose(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	tr.Insert(&point{0.1, 0.1})
	tr.ClearCountLastPassAndSSE()
	root := tr.Root()
	for i := 0; i < root.Size(); i++ {
		key := root.Key(i)
		if key.CountLastPass != 0 || key.SSE != 0 {
			t.Error("expected CountLastPass and SSE reset to zero")
		}
	}
	if got := tr.ObjCount(); got != 1 {
		t.Errorf("ClearCountLastPassAndSSE must not touch Count, got ObjCount=%d", got)
	}
}

func TestRMSENonNegative(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	for _, v := range []point{{0.1, 0.1}, {9.9, 0.2}, {0.2, 9.8}} {
		v := v
		tr.Insert(&v)
	}
	if rmse := tr.RMSE(); rmse < 0 {
		t.Errorf("expected non-negative RMSE, got %v", rmse)
	}
}

// sliceBatchSource is an in-memory BatchSource used to exercise the
// bounded pipeline without any IO.
type sliceBatchSource[T any] struct {
	data []*T
	pos  int
}

func (s *sliceBatchSource[T]) Read(n int) ([]*T, error) {
	if s.pos >= len(s.data) {
		return nil, nil
	}
	end := s.pos + n
	if end > len(s.data) {
		end = len(s.data)
	}
	batch := s.data[s.pos:end]
	s.pos = end
	return batch, nil
}

func TestStreamInsertDrainsWholeSource(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	data := make([]*point, 0, 500)
	for i := 0; i < 500; i++ {
		data = append(data, &point{0.1, 0.1})
	}
	src := &sliceBatchSource[point]{data: data}
	cfg := PipelineConfig{ReadSize: 37, MaxTokens: 4, Workers: 3}
	if err := tr.StreamInsert(context.Background(), src, cfg); err != nil {
		t.Fatalf("StreamInsert: %v", err)
	}
	if got := tr.ObjCount(); got != 500 {
		t.Errorf("expected 500 streamed objects, got %d", got)
	}
}

func TestStreamVisitDrainsWholeSourceWithoutAccumulating(t *testing.T) {
	tr, err := NewFromNode[point, *pointAcc](buildSeedTree(), pointOps())
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	data := make([]*point, 0, 200)
	for i := 0; i < 200; i++ {
		data = append(data, &point{9.9, 0.1})
	}
	src := &sliceBatchSource[point]{data: data}
	cfg := PipelineConfig{ReadSize: 50, MaxTokens: 2, Workers: 2}
	var count int64
	if err := tr.StreamVisit(context.Background(), src, cfg, func(level int, obj, clusterKey *point, distance float64) {
		atomic.AddInt64(&count, 1)
	}); err != nil {
		t.Fatalf("StreamVisit: %v", err)
	}
	if got := atomic.LoadInt64(&count); got != 200 {
		t.Errorf("expected visitor called 200 times, got %d", got)
	}
	if got := tr.ObjCount(); got != 200 {
		t.Errorf("expected 200 visited objects counted at the leaf, got %d", got)
	}
	root := tr.Root()
	for i := 0; i < root.Size(); i++ {
		if root.Key(i).Acc.n != 0 {
			t.Error("StreamVisit must not touch the accumulator")
		}
	}
}

// bitvector-based round trip, closer to the system's actual payload type:
// build a small TSVQ tree, wrap it for streaming, re-stream the same data,
// and check the streamed object count and RMSE match the batch tree's.
func randomBitVector(t *testing.T, length int, seedByte byte) *bitvec.BitVector {
	t.Helper()
	v, err := bitvec.New(length)
	if err != nil {
		t.Fatalf("bitvec.New: %v", err)
	}
	for i := 0; i < length; i++ {
		if (i+int(seedByte))%3 == 0 {
			v.Set(i)
		}
	}
	return v
}

func TestStreamingRoundTripMatchesBatchRMSE(t *testing.T) {
	const length = 64
	var data []*bitvec.BitVector
	for cluster := 0; cluster < 3; cluster++ {
		for i := 0; i < 10; i++ {
			data = append(data, randomBitVector(t, length, byte(cluster*7+i)))
		}
	}

	opt := optimizer.BitVectorOptimizer()
	tr := tsvq.New[bitvec.BitVector](opt, seed.RandomSeeder[bitvec.BitVector]{}, (*bitvec.BitVector).Clone, tsvq.Config{Branching: 3, Depth: 2, MaxIters: 10})
	if err := tr.Cluster(context.Background(), data); err != nil {
		t.Fatalf("tsvq.Cluster: %v", err)
	}
	batchRMSE := tr.RMSE()

	streamOps := BitVectorOps(length)
	stream, err := NewFromNode[bitvec.BitVector, []int32](tr.Root(), streamOps)
	if err != nil {
		t.Fatalf("NewFromNode: %v", err)
	}
	for _, v := range data {
		stream.Insert(v)
	}
	if got := stream.ObjCount(); got != len(data) {
		t.Fatalf("expected %d streamed objects, got %d", len(data), got)
	}
	if err := stream.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if streamRMSE := stream.RMSE(); math.Abs(streamRMSE-batchRMSE) > 1e-9 {
		t.Errorf("stream RMSE %v does not match batch RMSE %v", streamRMSE, batchRMSE)
	}
}
