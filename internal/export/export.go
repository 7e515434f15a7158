package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/engineroom/internal/pricing"
)

const (
	pricePlaces  = 4
	marginPlaces = 2
)

// Filter selects which item results are written.
type Filter int

const (
	All Filter = iota
	FlaggedOnly
	ChangedOnly
)

// ParseFilter maps "", "all", "flagged" and "changed" to a Filter.
func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", "all":
		return All, nil
	case "flagged":
		return FlaggedOnly, nil
	case "changed":
		return ChangedOnly, nil
	default:
		return All, fmt.Errorf("unknown export filter %q", s)
	}
}

var header = []string{
	"item_id",
	"description",
	"usage_rank",
	"group",
	"rule",
	"trend",
	"average_cost",
	"market_low",
	"true_market_low",
	"current_price",
	"proposed_price",
	"price_change",
	"current_margin_pct",
	"proposed_margin_pct",
	"multiplier",
	"uplift_pct",
	"margin_cap_applied",
	"margin_floor_applied",
	"price_fallback",
	"flagged",
	"flag_reason",
	"rule_applied",
}

// RoundPrice rounds a price half away from zero to four decimal places.
func RoundPrice(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(pricePlaces)
}

// Changed reports whether the proposed price differs from the current price
// once both are rounded for display.
func Changed(r pricing.ItemResult) bool {
	return !RoundPrice(r.ProposedPrice).Equal(RoundPrice(r.CurrentPrice))
}

func (f Filter) keep(r pricing.ItemResult) bool {
	switch f {
	case FlaggedOnly:
		return r.Flagged
	case ChangedOnly:
		return Changed(r)
	default:
		return true
	}
}

// WriteCSV writes the selected results with a header row and returns how many
// item rows were written.
func WriteCSV(w io.Writer, results []pricing.ItemResult, f Filter) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	n := 0
	for _, r := range results {
		if !f.keep(r) {
			continue
		}
		if err := cw.Write(row(r)); err != nil {
			return n, fmt.Errorf("write csv row %q: %w", r.ItemID, err)
		}
		n++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

func row(r pricing.ItemResult) []string {
	proposed := RoundPrice(r.ProposedPrice)
	current := RoundPrice(r.CurrentPrice)

	return []string{
		r.ItemID,
		r.Description,
		strconv.Itoa(r.UsageRank),
		r.Group,
		r.Rule,
		r.Trend,
		RoundPrice(r.AverageCost).StringFixed(pricePlaces),
		RoundPrice(r.MarketLow).StringFixed(pricePlaces),
		RoundPrice(r.TrueMarketLow).StringFixed(pricePlaces),
		current.StringFixed(pricePlaces),
		proposed.StringFixed(pricePlaces),
		proposed.Sub(current).StringFixed(pricePlaces),
		decimal.NewFromFloat(r.CurrentMargin).StringFixed(marginPlaces),
		decimal.NewFromFloat(r.ProposedMargin).StringFixed(marginPlaces),
		strconv.FormatFloat(r.Multiplier, 'f', -1, 64),
		strconv.FormatFloat(r.UpliftPercent, 'f', -1, 64),
		strconv.FormatBool(r.MarginCapApplied),
		strconv.FormatBool(r.MarginFloorApplied),
		strconv.FormatBool(r.PriceFallback),
		strconv.FormatBool(r.Flagged),
		r.FlagReason,
		r.RuleApplied,
	}
}
