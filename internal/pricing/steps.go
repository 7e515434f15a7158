package pricing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Simplici0/engineroom/internal/rules"
)

// quote carries one item through the pricing pipeline. Steps receive it by
// value and return the updated copy; the price field may be overridden by any
// later step.
type quote struct {
	item        Item
	marketLow   float64
	trueMarket  float64
	noMarket    bool
	group       rules.Group
	rule        rules.Rule
	trend       rules.Trend
	multiplier  float64
	upliftPct   float64
	basePrice   float64
	uplifted    float64
	price       float64
	capCeiling  float64
	capApplied  bool
	capSkipped  bool
	floorUsed   bool
	fallback    bool
	flags       []Flag
	reasons     []string
	ruleApplied string
	err         error
}

type step func(q quote, cfg *rules.Config) quote

// pipeline is the fixed evaluation order. The margin cap runs after every
// other price adjustment so nothing can lift a capped price again.
var pipeline = []step{
	selectRule,
	determineTrend,
	applyBaseMultiplier,
	applyUsageUplift,
	guardNonPositivePrice,
	applyMarginFloor,
	applyMarginCap,
	flagExceptions,
}

func newQuote(item Item) quote {
	q := quote{
		item:       item,
		noMarket:   item.HasNoMarketPrice(),
		trueMarket: item.EffectiveTrueMarketLow(),
	}
	if !q.noMarket {
		q.marketLow = item.MarketLow
	}
	// Validate guarantees the rank is in range.
	q.group, _ = rules.GroupFor(item.UsageRank)
	return q
}

func selectRule(q quote, _ *rules.Config) quote {
	if q.item.AverageCost < q.marketLow {
		q.rule = rules.Rule1
	} else {
		q.rule = rules.Rule2
	}
	return q
}

func determineTrend(q quote, _ *rules.Config) quote {
	if q.item.NextCost <= q.item.AverageCost {
		q.trend = rules.TrendDown
	} else {
		q.trend = rules.TrendFlatUp
	}
	return q
}

func applyBaseMultiplier(q quote, cfg *rules.Config) quote {
	m, err := cfg.Multiplier(q.rule, q.item.UsageRank, q.trend)
	if err != nil {
		q.err = err
		return q
	}
	q.multiplier = m
	q.basePrice = q.item.AverageCost * m
	q.price = q.basePrice
	q.ruleApplied = q.rule.String() + "_" + q.trend.String()
	return q
}

func applyUsageUplift(q quote, cfg *rules.Config) quote {
	pct, err := cfg.Uplift(q.item.UsageRank)
	if err != nil {
		q.err = err
		return q
	}
	q.upliftPct = pct
	q.price *= 1 + pct/100
	q.uplifted = q.price
	if pct != 0 {
		q.ruleApplied += "_uplift_" + formatPct(pct)
	}
	return q
}

// guardNonPositivePrice keeps negative multipliers from producing a negative
// price: the current price is kept when there is one, otherwise zero.
func guardNonPositivePrice(q quote, _ *rules.Config) quote {
	if q.price > 0 {
		return q
	}
	if q.price == 0 && q.item.CurrentPrice <= 0 {
		return q
	}
	q.fallback = true
	if q.item.CurrentPrice > 0 {
		q.price = q.item.CurrentPrice
		q.ruleApplied += "_fallback_current"
	} else {
		q.price = 0
		q.ruleApplied += "_fallback_zero"
	}
	return q
}

func applyMarginFloor(q quote, cfg *rules.Config) quote {
	floor := cfg.GlobalMarginFloor
	if floor <= 0 || q.item.AverageCost <= 0 {
		return q
	}
	if q.price > 0 && MarginPercent(q.price, q.item.AverageCost) >= floor {
		return q
	}
	q.price = q.item.AverageCost / (1 - floor/100)
	q.floorUsed = true
	q.ruleApplied += "_margin_floor_" + formatPct(floor)
	return q
}

func applyMarginCap(q quote, cfg *rules.Config) quote {
	cost := q.item.AverageCost
	if cost == 0 {
		q.capSkipped = true
		return q
	}
	if cost > cfg.LowCostCeiling {
		return q
	}

	capPct, err := cfg.MarginCap(q.item.UsageRank)
	if err != nil {
		q.err = err
		return q
	}
	q.capCeiling = cost / (1 - capPct/100)
	if q.price > q.capCeiling {
		q.price = q.capCeiling
		q.capApplied = true
		q.ruleApplied += "_margin_cap_" + formatPct(capPct)
	}
	return q
}

func flagExceptions(q quote, cfg *rules.Config) quote {
	if !q.noMarket && q.trueMarket > 0 {
		limit := q.trueMarket * (1 + cfg.Rule1Threshold/100)
		if q.price >= limit {
			q.flags = append(q.flags, FlagAboveMarket)
			q.reasons = append(q.reasons, fmt.Sprintf(
				"price %.4f is at or above true market low %.4f plus rule1 threshold %s%%",
				q.price, q.trueMarket, formatPct(cfg.Rule1Threshold)))
		}
	}

	cost := q.item.AverageCost
	if cost > 0 {
		margin := MarginPercent(q.price, cost)
		if q.price <= 0 || margin < cfg.Rule2Threshold {
			q.flags = append(q.flags, FlagLowMargin)
			q.reasons = append(q.reasons, fmt.Sprintf(
				"margin %.2f%% is below rule2 threshold %s%%", margin, formatPct(cfg.Rule2Threshold)))
		}
	}
	return q
}

func (q quote) result() ItemResult {
	return ItemResult{
		ItemID:                   q.item.ID,
		Description:              q.item.Description,
		UsageRank:                q.item.UsageRank,
		Group:                    q.group.String(),
		Rule:                     q.rule.String(),
		Trend:                    q.trend.String(),
		AverageCost:              q.item.AverageCost,
		Usage:                    q.item.Usage,
		MarketLow:                q.item.MarketLow,
		TrueMarketLow:            q.trueMarket,
		NoMarketPrice:            q.noMarket,
		Multiplier:               q.multiplier,
		UpliftPercent:            q.upliftPct,
		BasePrice:                q.basePrice,
		UpliftedPrice:            q.uplifted,
		CurrentPrice:             q.item.CurrentPrice,
		ProposedPrice:            q.price,
		CurrentMargin:            MarginPercent(q.item.CurrentPrice, q.item.AverageCost),
		ProposedMargin:           MarginPercent(q.price, q.item.AverageCost),
		MarginCapApplied:         q.capApplied,
		MarginCapSkippedZeroCost: q.capSkipped,
		MarginCapCeiling:         q.capCeiling,
		MarginFloorApplied:       q.floorUsed,
		PriceFallback:            q.fallback,
		Flagged:                  len(q.flags) > 0,
		FlagReason:               strings.Join(q.reasons, "; "),
		Flags:                    q.flags,
		RuleApplied:              q.ruleApplied,
	}
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
