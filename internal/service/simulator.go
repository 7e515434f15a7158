package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/atomic"

	"github.com/Simplici0/engineroom/internal/logger"
	"github.com/Simplici0/engineroom/internal/pricing"
	"github.com/Simplici0/engineroom/internal/rules"
	"github.com/Simplici0/engineroom/internal/simulation"
	"github.com/Simplici0/engineroom/internal/store"
)

const defaultCacheTTL = 10 * time.Minute

// Options configure a Simulator.
type Options struct {
	Workers   int
	ChunkSize int
	CacheTTL  time.Duration
}

// Request describes one simulation. A nil Config uses the active rule
// configuration; a nil Items slice uses the stored catalog.
type Request struct {
	Config      *rules.Config
	Items       []pricing.Item
	Granularity simulation.Granularity
}

// Stats are process-lifetime counters.
type Stats struct {
	Runs        int64 `json:"runs"`
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
}

// Simulator runs simulations against the stored catalog and rule versions,
// persists them and memoizes results by input fingerprint.
type Simulator struct {
	store *store.Store
	log   logger.Logger
	opts  Options
	cache *cache.Cache

	runs   atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Simulator.
func New(s *store.Store, log logger.Logger, opts Options) *Simulator {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &Simulator{
		store: s,
		log:   log,
		opts:  opts,
		cache: cache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// ActiveConfig returns the latest saved rule configuration. Before anything
// has been saved it returns the defaults with version 0.
func (s *Simulator) ActiveConfig(ctx context.Context) (store.RuleVersion, error) {
	v, err := s.store.ActiveRuleConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Warnf(ctx, "no saved rule configuration, using defaults")
		return store.RuleVersion{Config: rules.Default()}, nil
	}
	if err != nil {
		return store.RuleVersion{}, fmt.Errorf("load active rule config: %w", err)
	}
	return v, nil
}

// SaveConfig stores cfg as the new active version.
func (s *Simulator) SaveConfig(ctx context.Context, cfg rules.Config, note string) (store.RuleVersion, error) {
	v, err := s.store.SaveRuleConfig(ctx, cfg, note)
	if err != nil {
		return store.RuleVersion{}, err
	}
	s.log.Infof(ctx, "saved rule configuration version %d", v.Version)
	return v, nil
}

// Evaluate prices a single item. A nil cfg uses the active configuration.
func (s *Simulator) Evaluate(ctx context.Context, item pricing.Item, cfg *rules.Config) (pricing.ItemResult, error) {
	if cfg == nil {
		active, err := s.ActiveConfig(ctx)
		if err != nil {
			return pricing.ItemResult{}, err
		}
		cfg = &active.Config
	}
	return pricing.EvaluateItem(item, *cfg)
}

// Simulate runs or reuses a simulation. The returned run is shared with the
// cache and must not be modified.
func (s *Simulator) Simulate(ctx context.Context, req Request) (store.Run, error) {
	var version int64
	var cfg rules.Config
	if req.Config != nil {
		cfg = *req.Config
	} else {
		active, err := s.ActiveConfig(ctx)
		if err != nil {
			return store.Run{}, err
		}
		version = active.Version
		cfg = active.Config
	}

	items := req.Items
	if items == nil {
		loaded, err := s.store.ListItems(ctx)
		if err != nil {
			return store.Run{}, fmt.Errorf("load catalog: %w", err)
		}
		items = loaded
	}

	fp, err := s.fingerprint(items, cfg, req.Granularity)
	if err != nil {
		// Non-finite inputs cannot be hashed; the run still reports them as skipped.
		s.log.Debugf(ctx, "simulation not cacheable: %v", err)
	} else if cached, ok := s.cache.Get(fp); ok {
		s.hits.Inc()
		run := cached.(store.Run)
		s.log.Debugf(logger.WithRunID(ctx, run.ID), "simulation cache hit")
		return run, nil
	}
	s.misses.Inc()

	run := store.Run{
		ID:                uuid.NewString(),
		RuleConfigVersion: version,
		Fingerprint:       fp,
	}
	ctx = logger.WithRunID(ctx, run.ID)

	start := time.Now()
	result, err := simulation.Run(ctx, items, cfg, simulation.Options{
		Granularity: req.Granularity,
		Workers:     s.opts.Workers,
		ChunkSize:   s.opts.ChunkSize,
	})
	if err != nil {
		return store.Run{}, err
	}
	run.Result = result
	run.CreatedAt = time.Now().UTC()
	s.runs.Inc()

	for _, skipped := range result.SkippedItems {
		s.log.Warnf(ctx, "skipped item %q at index %d: %s", skipped.ItemID, skipped.Index, skipped.Reason)
	}
	s.log.Infof(ctx,
		"simulated %d items in %s: revenue %.2f -> %.2f, margin %.2f%% -> %.2f%%, caps=%d floors=%d fallbacks=%d flagged=%d",
		result.Simulated.Count,
		time.Since(start).Round(time.Millisecond),
		result.Baseline.TotalRevenue,
		result.Simulated.TotalRevenue,
		result.Baseline.WeightedMargin,
		result.Simulated.WeightedMargin,
		result.Counters.MarginCapApplied,
		result.Counters.MarginFloorApplied,
		result.Counters.PriceFallback,
		result.Counters.Flagged,
	)

	if err := s.store.SaveRun(ctx, run); err != nil {
		return store.Run{}, fmt.Errorf("save simulation run: %w", err)
	}

	if fp != "" {
		s.cache.SetDefault(fp, run)
	}
	return run, nil
}

// Stats returns the current counters.
func (s *Simulator) Stats() Stats {
	return Stats{
		Runs:        s.runs.Load(),
		CacheHits:   s.hits.Load(),
		CacheMisses: s.misses.Load(),
	}
}

// fingerprint hashes everything that can change a result. Worker count is
// left out because it does not.
func (s *Simulator) fingerprint(items []pricing.Item, cfg rules.Config, granularity simulation.Granularity) (string, error) {
	payload := struct {
		Items       []pricing.Item         `json:"items"`
		Config      rules.Config           `json:"config"`
		Granularity simulation.Granularity `json:"granularity"`
		ChunkSize   int                    `json:"chunkSize"`
	}{items, cfg, granularity, s.opts.ChunkSize}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint simulation input: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
