package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Simplici0/engineroom/internal/rules"
)

// Item represents one catalog entry supplied by the data layer.
type Item struct {
	ID               string             `json:"id"`
	Description      string             `json:"description,omitempty"`
	AverageCost      float64            `json:"averageCost"`
	MarketLow        float64            `json:"marketLow"`
	TrueMarketLow    float64            `json:"trueMarketLow"`
	CompetitorPrices map[string]float64 `json:"competitorPrices,omitempty"`
	NoMarketPrice    bool               `json:"noMarketPrice,omitempty"`
	CurrentPrice     float64            `json:"currentPrice"`
	Usage            float64            `json:"usage"`
	UsageRank        int                `json:"usageRank"`
	NextCost         float64            `json:"nextCost"`
}

// Flag is a review reason attached to a proposed price.
type Flag string

const (
	FlagAboveMarket Flag = "RULE1_ABOVE_MARKET"
	FlagLowMargin   Flag = "RULE2_LOW_MARGIN"
)

// ItemResult is the outcome of evaluating one item.
type ItemResult struct {
	ItemID      string `json:"itemId"`
	Description string `json:"description,omitempty"`
	UsageRank   int    `json:"usageRank"`
	Group       string `json:"group"`
	Rule        string `json:"rule"`
	Trend       string `json:"trend"`

	AverageCost   float64 `json:"averageCost"`
	Usage         float64 `json:"usage"`
	MarketLow     float64 `json:"marketLow"`
	TrueMarketLow float64 `json:"trueMarketLow"`
	NoMarketPrice bool    `json:"noMarketPrice"`

	Multiplier    float64 `json:"multiplier"`
	UpliftPercent float64 `json:"upliftPercent"`
	BasePrice     float64 `json:"basePrice"`
	UpliftedPrice float64 `json:"upliftedPrice"`

	CurrentPrice   float64 `json:"currentPrice"`
	ProposedPrice  float64 `json:"proposedPrice"`
	CurrentMargin  float64 `json:"currentMargin"`
	ProposedMargin float64 `json:"proposedMargin"`

	MarginCapApplied         bool    `json:"marginCapApplied"`
	MarginCapSkippedZeroCost bool    `json:"marginCapSkippedZeroCost"`
	MarginCapCeiling         float64 `json:"marginCapCeiling,omitempty"`
	MarginFloorApplied       bool    `json:"marginFloorApplied"`
	PriceFallback            bool    `json:"priceFallback"`

	Flagged     bool   `json:"flagged"`
	FlagReason  string `json:"flagReason,omitempty"`
	Flags       []Flag `json:"flags,omitempty"`
	RuleApplied string `json:"ruleApplied"`
}

// HasFlag reports whether f was raised for the item.
func (r ItemResult) HasFlag(f Flag) bool {
	for _, got := range r.Flags {
		if got == f {
			return true
		}
	}
	return false
}

// ErrInvalidItem is wrapped by every InvalidItemError.
var ErrInvalidItem = errors.New("invalid item")

// InvalidItemError reports an item that cannot be priced. Batch runs record
// it and carry on with the remaining items.
type InvalidItemError struct {
	ItemID string
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid item %q: %s", e.ItemID, e.Reason)
}

func (e *InvalidItemError) Unwrap() error {
	return ErrInvalidItem
}

// Validate checks the fields the engine relies on.
func (it Item) Validate() error {
	invalid := func(format string, args ...any) error {
		return &InvalidItemError{ItemID: it.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(it.ID) == "" {
		return invalid("id is required")
	}
	if !nonNegative(it.AverageCost) {
		return invalid("averageCost must be a non-negative number, got %v", it.AverageCost)
	}
	if it.UsageRank < rules.MinUsageRank || it.UsageRank > rules.MaxUsageRank {
		return invalid("usageRank must be between %d and %d, got %d", rules.MinUsageRank, rules.MaxUsageRank, it.UsageRank)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"marketLow", it.MarketLow},
		{"trueMarketLow", it.TrueMarketLow},
		{"currentPrice", it.CurrentPrice},
		{"usage", it.Usage},
		{"nextCost", it.NextCost},
	} {
		if !nonNegative(f.value) {
			return invalid("%s must be a non-negative number, got %v", f.name, f.value)
		}
	}
	return nil
}

// EffectiveTrueMarketLow returns the price used for market-based flagging:
// the supplied true market low, else the lowest positive competitor price,
// else the market low. Zero means no market reference exists.
func (it Item) EffectiveTrueMarketLow() float64 {
	if it.TrueMarketLow > 0 {
		return it.TrueMarketLow
	}
	lowest := 0.0
	for _, p := range it.CompetitorPrices {
		if p > 0 && !math.IsInf(p, 0) && (lowest == 0 || p < lowest) {
			lowest = p
		}
	}
	if lowest > 0 {
		return lowest
	}
	return it.MarketLow
}

// HasNoMarketPrice reports whether the item must be kept out of
// market-based rule selection and flagging.
func (it Item) HasNoMarketPrice() bool {
	return it.NoMarketPrice || it.EffectiveTrueMarketLow() <= 0
}

// Engine prices items against one validated configuration. It holds no
// mutable state and may be shared between goroutines.
type Engine struct {
	cfg rules.Config
}

// NewEngine validates cfg once and returns an engine bound to it.
func NewEngine(cfg rules.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() rules.Config {
	return e.cfg
}

// Evaluate computes the proposed price and exception flags for one item.
func (e *Engine) Evaluate(item Item) (ItemResult, error) {
	if err := item.Validate(); err != nil {
		return ItemResult{}, err
	}

	q := newQuote(item)
	for _, s := range pipeline {
		q = s(q, &e.cfg)
		if q.err != nil {
			return ItemResult{}, fmt.Errorf("price item %q: %w", item.ID, q.err)
		}
	}

	res := q.result()
	if err := res.checkRange(); err != nil {
		return ItemResult{}, err
	}
	return res, nil
}

// maxLineAmount bounds price or cost times usage for a single item so that
// catalog totals stay finite.
const maxLineAmount = 1e290

// checkRange rejects results whose figures overflow float64 or are too large
// to be summed across a catalog.
func (r ItemResult) checkRange() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"basePrice", r.BasePrice},
		{"upliftedPrice", r.UpliftedPrice},
		{"proposedPrice", r.ProposedPrice},
		{"currentMargin", r.CurrentMargin},
		{"proposedMargin", r.ProposedMargin},
		{"marginCapCeiling", r.MarginCapCeiling},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &InvalidItemError{ItemID: r.ItemID, Reason: f.name + " overflows float64"}
		}
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"currentPrice*usage", r.CurrentPrice * r.Usage},
		{"proposedPrice*usage", r.ProposedPrice * r.Usage},
		{"averageCost*usage", r.AverageCost * r.Usage},
	} {
		if !(math.Abs(f.value) <= maxLineAmount) {
			return &InvalidItemError{ItemID: r.ItemID, Reason: fmt.Sprintf("%s exceeds %g", f.name, maxLineAmount)}
		}
	}
	return nil
}

// EvaluateItem validates cfg and evaluates a single item against it.
func EvaluateItem(item Item, cfg rules.Config) (ItemResult, error) {
	engine, err := NewEngine(cfg)
	if err != nil {
		return ItemResult{}, err
	}
	return engine.Evaluate(item)
}

// MarginPercent returns (price - cost) / price as a percentage, or 0 when
// price is not positive.
func MarginPercent(price, cost float64) float64 {
	if price <= 0 {
		return 0
	}
	return (price - cost) / price * 100
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
