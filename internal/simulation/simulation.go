package simulation

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Simplici0/engineroom/internal/pricing"
	"github.com/Simplici0/engineroom/internal/rules"
)

const defaultChunkSize = 512

// Granularity selects how items are grouped in the impact report.
type Granularity int

const (
	// GroupByBucket reports the three rank groups 1-2, 3-4 and 5-6.
	GroupByBucket Granularity = iota
	// GroupByRank reports each usage rank separately.
	GroupByRank
)

// ParseGranularity maps "bucket" and "rank" to a Granularity. An empty
// string selects GroupByBucket.
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "", "bucket":
		return GroupByBucket, nil
	case "rank":
		return GroupByRank, nil
	default:
		return 0, fmt.Errorf("unknown granularity %q", s)
	}
}

// Options tune a simulation run. The zero value is ready to use.
type Options struct {
	Granularity Granularity
	// Workers caps the number of chunks evaluated at once. Defaults to GOMAXPROCS.
	Workers int
	// ChunkSize is the number of items per unit of work. Results only depend
	// on it through floating-point summation order, so keep it fixed between
	// runs that are compared.
	ChunkSize int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	return o
}

// Simulate reprices the whole catalog with default options.
func Simulate(items []pricing.Item, cfg rules.Config) (Result, error) {
	return Run(context.Background(), items, cfg, Options{})
}

// Run reprices the catalog and aggregates baseline against simulated
// figures. An invalid configuration aborts the run before any item is
// evaluated; invalid items are reported in SkippedItems.
func Run(ctx context.Context, items []pricing.Item, cfg rules.Config, opts Options) (Result, error) {
	engine, err := pricing.NewEngine(cfg)
	if err != nil {
		return Result{}, err
	}
	opts = opts.withDefaults()

	chunks := (len(items) + opts.ChunkSize - 1) / opts.ChunkSize
	partials := make([]partial, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < chunks; i++ {
		i := i
		start := i * opts.ChunkSize
		end := min(start+opts.ChunkSize, len(items))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := evaluateChunk(engine, items[start:end], start)
			if err != nil {
				return err
			}
			partials[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("evaluate catalog: %w", err)
	}

	return reduce(partials, cfg, opts.Granularity, len(items)), nil
}

// evaluateChunk prices a contiguous slice of the catalog. offset is the
// index of the first item in the full catalog.
func evaluateChunk(engine *pricing.Engine, items []pricing.Item, offset int) (partial, error) {
	p := partial{results: make([]pricing.ItemResult, 0, len(items))}
	for i, item := range items {
		result, err := engine.Evaluate(item)
		if err != nil {
			var invalid *pricing.InvalidItemError
			if errors.As(err, &invalid) {
				p.skipped = append(p.skipped, SkippedItem{ItemID: invalid.ItemID, Index: offset + i, Reason: invalid.Reason})
				continue
			}
			return partial{}, err
		}
		p.add(result)
	}
	return p, nil
}
