package simulation

import (
	"fmt"
	"math"

	"github.com/Simplici0/engineroom/internal/pricing"
	"github.com/Simplici0/engineroom/internal/rules"
)

// Totals are usage-weighted aggregates for one side of the comparison.
type Totals struct {
	TotalRevenue   float64 `json:"totalRevenue"`
	TotalProfit    float64 `json:"totalProfit"`
	WeightedMargin float64 `json:"weightedMargin"`
	Count          int     `json:"count"`
}

// Changes compares simulated totals with the baseline. MarginDiff is in
// percentage points.
type Changes struct {
	RevenueDiff        float64 `json:"revenueDiff"`
	RevenueDiffPercent float64 `json:"revenueDiffPercent"`
	ProfitDiff         float64 `json:"profitDiff"`
	ProfitDiffPercent  float64 `json:"profitDiffPercent"`
	MarginDiff         float64 `json:"marginDiff"`
}

// MarginImpact compares weighted margins.
type MarginImpact struct {
	Current   float64 `json:"current"`
	Simulated float64 `json:"simulated"`
	Diff      float64 `json:"diff"`
}

// AmountImpact compares a currency amount.
type AmountImpact struct {
	Current     float64 `json:"current"`
	Simulated   float64 `json:"simulated"`
	Diff        float64 `json:"diff"`
	DiffPercent float64 `json:"diffPercent"`
}

// Counters tally per-item outcomes worth surfacing to the user.
type Counters struct {
	MarginCapApplied         int `json:"marginCapApplied"`
	ZeroCostMarginCapSkipped int `json:"zeroCostMarginCapSkipped"`
	MarginFloorApplied       int `json:"marginFloorApplied"`
	PriceFallback            int `json:"priceFallback"`
	AboveMarketFlags         int `json:"aboveMarketFlags"`
	LowMarginFlags           int `json:"lowMarginFlags"`
	Flagged                  int `json:"flagged"`
}

func (c *Counters) add(r pricing.ItemResult) {
	if r.MarginCapApplied {
		c.MarginCapApplied++
	}
	if r.MarginCapSkippedZeroCost {
		c.ZeroCostMarginCapSkipped++
	}
	if r.MarginFloorApplied {
		c.MarginFloorApplied++
	}
	if r.PriceFallback {
		c.PriceFallback++
	}
	if r.HasFlag(pricing.FlagAboveMarket) {
		c.AboveMarketFlags++
	}
	if r.HasFlag(pricing.FlagLowMargin) {
		c.LowMarginFlags++
	}
	if r.Flagged {
		c.Flagged++
	}
}

func (c *Counters) merge(o Counters) {
	c.MarginCapApplied += o.MarginCapApplied
	c.ZeroCostMarginCapSkipped += o.ZeroCostMarginCapSkipped
	c.MarginFloorApplied += o.MarginFloorApplied
	c.PriceFallback += o.PriceFallback
	c.AboveMarketFlags += o.AboveMarketFlags
	c.LowMarginFlags += o.LowMarginFlags
	c.Flagged += o.Flagged
}

// GroupImpact is the before/after comparison for one usage group.
type GroupImpact struct {
	Name      string       `json:"name"`
	Ranks     []int        `json:"ranks"`
	Margin    MarginImpact `json:"margin"`
	Profit    AmountImpact `json:"profit"`
	Revenue   AmountImpact `json:"revenue"`
	ItemCount int          `json:"itemCount"`
	Counters  Counters     `json:"counters"`
}

// SkippedItem is an item left out of the run because its data is invalid.
type SkippedItem struct {
	ItemID string `json:"itemId"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// MarginBand counts items whose simulated margin falls in [Min, Max). A nil
// bound is open: the lowest band also holds negative margins and the highest
// has no ceiling.
type MarginBand struct {
	Name      string   `json:"name"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	ItemCount int      `json:"itemCount"`
	Profit    float64  `json:"profit"`
}

func bound(v float64) *float64 { return &v }

var marginBands = []MarginBand{
	{Name: "<5%", Max: bound(5)},
	{Name: "5-10%", Min: bound(5), Max: bound(10)},
	{Name: "10-15%", Min: bound(10), Max: bound(15)},
	{Name: "15-20%", Min: bound(15), Max: bound(20)},
	{Name: "20%+", Min: bound(20)},
}

func bandIndex(margin float64) int {
	for i := len(marginBands) - 1; i > 0; i-- {
		if margin >= *marginBands[i].Min {
			return i
		}
	}
	return 0
}

// Result is the outcome of one simulation run. It is built fresh on every
// call and not modified afterwards.
type Result struct {
	Baseline           Totals               `json:"baseline"`
	Simulated          Totals               `json:"simulated"`
	Changes            Changes              `json:"changes"`
	GroupImpact        []GroupImpact        `json:"groupImpact"`
	Counters           Counters             `json:"counters"`
	MarginDistribution []MarginBand         `json:"marginDistribution"`
	ItemResults        []pricing.ItemResult `json:"itemResults"`
	SkippedItems       []SkippedItem        `json:"skippedItems"`
	TotalItems         int                  `json:"totalItems"`
	Config             rules.Config         `json:"config"`
}

// sums accumulates usage-weighted revenue and profit for a set of items.
type sums struct {
	baseRevenue float64
	baseProfit  float64
	simRevenue  float64
	simProfit   float64
	count       int
	counters    Counters
}

func (s *sums) add(r pricing.ItemResult) {
	s.baseRevenue += r.CurrentPrice * r.Usage
	s.baseProfit += (r.CurrentPrice - r.AverageCost) * r.Usage
	s.simRevenue += r.ProposedPrice * r.Usage
	s.simProfit += (r.ProposedPrice - r.AverageCost) * r.Usage
	s.count++
	s.counters.add(r)
}

func (s *sums) merge(o sums) {
	s.baseRevenue += o.baseRevenue
	s.baseProfit += o.baseProfit
	s.simRevenue += o.simRevenue
	s.simProfit += o.simProfit
	s.count += o.count
	s.counters.merge(o.counters)
}

// partial is the output of one chunk.
type partial struct {
	results []pricing.ItemResult
	skipped []SkippedItem
	total   sums
	byRank  [rules.MaxUsageRank + 1]sums
	bands   [5]struct {
		count  int
		profit float64
	}
}

func (p *partial) add(r pricing.ItemResult) {
	p.results = append(p.results, r)
	p.total.add(r)
	p.byRank[r.UsageRank].add(r)

	b := &p.bands[bandIndex(r.ProposedMargin)]
	b.count++
	b.profit += (r.ProposedPrice - r.AverageCost) * r.Usage
}

// reduce merges chunk partials in catalog order so the result does not
// depend on which worker finished first.
func reduce(partials []partial, cfg rules.Config, granularity Granularity, totalItems int) Result {
	var total sums
	var byRank [rules.MaxUsageRank + 1]sums
	bands := make([]MarginBand, len(marginBands))
	copy(bands, marginBands)

	res := Result{
		ItemResults:  make([]pricing.ItemResult, 0, totalItems),
		SkippedItems: make([]SkippedItem, 0),
		TotalItems:   totalItems,
		Config:       cfg,
	}

	for _, p := range partials {
		res.ItemResults = append(res.ItemResults, p.results...)
		res.SkippedItems = append(res.SkippedItems, p.skipped...)
		total.merge(p.total)
		for rank := rules.MinUsageRank; rank <= rules.MaxUsageRank; rank++ {
			byRank[rank].merge(p.byRank[rank])
		}
		for i := range bands {
			bands[i].ItemCount += p.bands[i].count
			bands[i].Profit += p.bands[i].profit
		}
	}

	res.Baseline = Totals{
		TotalRevenue:   total.baseRevenue,
		TotalProfit:    total.baseProfit,
		WeightedMargin: weightedMargin(total.baseProfit, total.baseRevenue),
		Count:          total.count,
	}
	res.Simulated = Totals{
		TotalRevenue:   total.simRevenue,
		TotalProfit:    total.simProfit,
		WeightedMargin: weightedMargin(total.simProfit, total.simRevenue),
		Count:          total.count,
	}
	res.Changes = Changes{
		RevenueDiff:        res.Simulated.TotalRevenue - res.Baseline.TotalRevenue,
		RevenueDiffPercent: percentChange(res.Baseline.TotalRevenue, res.Simulated.TotalRevenue),
		ProfitDiff:         res.Simulated.TotalProfit - res.Baseline.TotalProfit,
		ProfitDiffPercent:  percentChange(res.Baseline.TotalProfit, res.Simulated.TotalProfit),
		MarginDiff:         res.Simulated.WeightedMargin - res.Baseline.WeightedMargin,
	}
	res.Counters = total.counters
	res.MarginDistribution = bands
	res.GroupImpact = groupImpact(byRank, granularity)

	return res
}

func groupImpact(byRank [rules.MaxUsageRank + 1]sums, granularity Granularity) []GroupImpact {
	if granularity == GroupByRank {
		out := make([]GroupImpact, 0, rules.MaxUsageRank)
		for rank := rules.MinUsageRank; rank <= rules.MaxUsageRank; rank++ {
			out = append(out, newGroupImpact(fmt.Sprintf("Rank %d", rank), []int{rank}, byRank[rank]))
		}
		return out
	}

	out := make([]GroupImpact, 0, len(rules.Groups))
	for _, g := range rules.Groups {
		var s sums
		ranks := make([]int, 0, 2)
		for rank := rules.MinUsageRank; rank <= rules.MaxUsageRank; rank++ {
			if rg, _ := rules.GroupFor(rank); rg == g {
				s.merge(byRank[rank])
				ranks = append(ranks, rank)
			}
		}
		out = append(out, newGroupImpact(g.Label(), ranks, s))
	}
	return out
}

func newGroupImpact(name string, ranks []int, s sums) GroupImpact {
	baseMargin := weightedMargin(s.baseProfit, s.baseRevenue)
	simMargin := weightedMargin(s.simProfit, s.simRevenue)
	return GroupImpact{
		Name:  name,
		Ranks: ranks,
		Margin: MarginImpact{
			Current:   baseMargin,
			Simulated: simMargin,
			Diff:      simMargin - baseMargin,
		},
		Profit: AmountImpact{
			Current:     s.baseProfit,
			Simulated:   s.simProfit,
			Diff:        s.simProfit - s.baseProfit,
			DiffPercent: percentChange(s.baseProfit, s.simProfit),
		},
		Revenue: AmountImpact{
			Current:     s.baseRevenue,
			Simulated:   s.simRevenue,
			Diff:        s.simRevenue - s.baseRevenue,
			DiffPercent: percentChange(s.baseRevenue, s.simRevenue),
		},
		ItemCount: s.count,
		Counters:  s.counters,
	}
}

// weightedMargin returns profit / revenue as a percentage, 0 without revenue.
func weightedMargin(profit, revenue float64) float64 {
	if revenue == 0 {
		return 0
	}
	return finiteOrZero(profit / revenue * 100)
}

// percentChange returns the change relative to the magnitude of base, or 0
// when base is 0.
func percentChange(base, simulated float64) float64 {
	if base == 0 {
		return 0
	}
	return finiteOrZero((simulated - base) / math.Abs(base) * 100)
}

// finiteOrZero maps ratios that overflow against a near-zero base to 0.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
