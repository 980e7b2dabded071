// pkg/streamtree/pipeline.go
package streamtree

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchSource yields sequential batches of up to n items. A zero-length
// batch with a nil error signals normal end of stream; a non-nil error is
// fatal to the pipeline.
type BatchSource[T any] interface {
	Read(n int) ([]*T, error)
}

// PipelineConfig controls the bounded producer/consumer stream pipeline.
type PipelineConfig struct {
	ReadSize  int // vectors per batch; defaults to 1000
	MaxTokens int // in-flight batch cap; defaults to 1024
	Workers   int // concurrent consumers; defaults to 1
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ReadSize <= 0 {
		c.ReadSize = 1000
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// run drives source through process in a bounded pipeline: a single serial
// reader emits batches onto a channel buffered to MaxTokens, and Workers
// goroutines each drain whole batches, run process over every item, then
// let the batch be garbage-collected. Memory stays O(MaxTokens * ReadSize)
// regardless of how long source runs.
func run[T any](ctx context.Context, source BatchSource[T], cfg PipelineConfig, process func(obj *T)) error {
	cfg = cfg.withDefaults()
	batches := make(chan []*T, cfg.MaxTokens)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		for {
			batch, err := source.Read(cfg.ReadSize)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error {
			for batch := range batches {
				for _, obj := range batch {
					process(obj)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// StreamInsert drains source through the bounded pipeline, calling Insert
// on every item.
func (t *Tree[T, A]) StreamInsert(ctx context.Context, source BatchSource[T], cfg PipelineConfig) error {
	return run(ctx, source, cfg, t.Insert)
}

// StreamVisit drains source through the bounded pipeline, calling Visit on
// every item with the given visitor.
func (t *Tree[T, A]) StreamVisit(ctx context.Context, source BatchSource[T], cfg PipelineConfig, visit VisitFunc[T]) error {
	return run(ctx, source, cfg, func(obj *T) { t.Visit(obj, visit) })
}
