package rules

import (
	"fmt"
	"math"
)

// Rule identifies which multiplier table applies to an item.
type Rule int

const (
	// Rule1 applies when the average cost is below the market low.
	Rule1 Rule = iota + 1
	// Rule2 applies when the average cost is at or above the market low.
	Rule2
)

func (r Rule) String() string {
	switch r {
	case Rule1:
		return "rule1"
	case Rule2:
		return "rule2"
	default:
		return fmt.Sprintf("rule(%d)", int(r))
	}
}

// Trend describes where an item's forward cost is heading.
type Trend int

const (
	// TrendDown means the next cost is at or below the average cost.
	TrendDown Trend = iota + 1
	// TrendFlatUp means the next cost is above the average cost.
	TrendFlatUp
)

func (t Trend) String() string {
	switch t {
	case TrendDown:
		return "trend_down"
	case TrendFlatUp:
		return "trend_flat_up"
	default:
		return fmt.Sprintf("trend(%d)", int(t))
	}
}

// Group is a bucket of usage ranks sharing multiplier, cap and uplift values.
type Group int

const (
	Group1_2 Group = iota + 1
	Group3_4
	Group5_6
)

// Groups lists the rank groups in report order.
var Groups = []Group{Group1_2, Group3_4, Group5_6}

func (g Group) String() string {
	switch g {
	case Group1_2:
		return "group1_2"
	case Group3_4:
		return "group3_4"
	case Group5_6:
		return "group5_6"
	default:
		return fmt.Sprintf("group(%d)", int(g))
	}
}

// Label returns the display name used in group impact reports.
func (g Group) Label() string {
	switch g {
	case Group1_2:
		return "Group 1-2"
	case Group3_4:
		return "Group 3-4"
	case Group5_6:
		return "Group 5-6"
	default:
		return g.String()
	}
}

const (
	MinUsageRank = 1
	MaxUsageRank = 6
)

// GroupFor maps a usage rank to its group bucket.
func GroupFor(usageRank int) (Group, error) {
	switch {
	case usageRank < MinUsageRank || usageRank > MaxUsageRank:
		return 0, fmt.Errorf("usage rank %d out of range %d..%d", usageRank, MinUsageRank, MaxUsageRank)
	case usageRank <= 2:
		return Group1_2, nil
	case usageRank <= 4:
		return Group3_4, nil
	default:
		return Group5_6, nil
	}
}

// TrendMultipliers holds the two multipliers of one rank group.
type TrendMultipliers struct {
	TrendDown   float64 `json:"trend_down"`
	TrendFlatUp float64 `json:"trend_flat_up"`
}

// RuleTable holds the multipliers of one rule for every rank group.
type RuleTable struct {
	Group1_2 TrendMultipliers `json:"group1_2"`
	Group3_4 TrendMultipliers `json:"group3_4"`
	Group5_6 TrendMultipliers `json:"group5_6"`
}

// GroupValues holds one percentage per rank group.
type GroupValues struct {
	Group1_2 float64 `json:"group1_2"`
	Group3_4 float64 `json:"group3_4"`
	Group5_6 float64 `json:"group5_6"`
}

func (v GroupValues) get(g Group) float64 {
	switch g {
	case Group1_2:
		return v.Group1_2
	case Group3_4:
		return v.Group3_4
	default:
		return v.Group5_6
	}
}

// Config is the full repricing configuration. It is plain data; call
// Validate before handing it to the pricing engine.
type Config struct {
	Rule1 RuleTable `json:"rule1"`
	Rule2 RuleTable `json:"rule2"`

	// Rule1Threshold is the percentage above the true market low at which a
	// proposed price is flagged.
	Rule1Threshold float64 `json:"rule1Threshold"`
	// Rule2Threshold is the minimum acceptable margin percentage.
	Rule2Threshold float64 `json:"rule2Threshold"`

	MarginCaps     GroupValues `json:"marginCaps"`
	LowCostCeiling float64     `json:"lowCostCeiling"`
	UsageUplift    GroupValues `json:"usageUplift"`

	// GlobalMarginFloor is a minimum margin percentage for priced items; 0 disables it.
	GlobalMarginFloor float64 `json:"globalMarginFloor"`
}

// Default returns the configuration used when nothing has been saved yet.
func Default() Config {
	return Config{
		Rule1: RuleTable{
			Group1_2: TrendMultipliers{TrendDown: 1.10, TrendFlatUp: 1.12},
			Group3_4: TrendMultipliers{TrendDown: 1.12, TrendFlatUp: 1.14},
			Group5_6: TrendMultipliers{TrendDown: 1.14, TrendFlatUp: 1.16},
		},
		Rule2: RuleTable{
			Group1_2: TrendMultipliers{TrendDown: 1.03, TrendFlatUp: 1.12},
			Group3_4: TrendMultipliers{TrendDown: 1.04, TrendFlatUp: 1.13},
			Group5_6: TrendMultipliers{TrendDown: 1.05, TrendFlatUp: 1.14},
		},
		Rule1Threshold:    10,
		Rule2Threshold:    3,
		MarginCaps:        GroupValues{Group1_2: 10, Group3_4: 20, Group5_6: 30},
		LowCostCeiling:    1.00,
		UsageUplift:       GroupValues{Group1_2: 0, Group3_4: 1, Group5_6: 2},
		GlobalMarginFloor: 0,
	}
}

func (c Config) table(rule Rule) (RuleTable, error) {
	switch rule {
	case Rule1:
		return c.Rule1, nil
	case Rule2:
		return c.Rule2, nil
	default:
		return RuleTable{}, fmt.Errorf("unknown %s", rule)
	}
}

// Multiplier returns the multiplier for a rule, usage rank and trend.
func (c Config) Multiplier(rule Rule, usageRank int, trend Trend) (float64, error) {
	table, err := c.table(rule)
	if err != nil {
		return 0, err
	}
	group, err := GroupFor(usageRank)
	if err != nil {
		return 0, err
	}

	var cell TrendMultipliers
	switch group {
	case Group1_2:
		cell = table.Group1_2
	case Group3_4:
		cell = table.Group3_4
	default:
		cell = table.Group5_6
	}

	switch trend {
	case TrendDown:
		return cell.TrendDown, nil
	case TrendFlatUp:
		return cell.TrendFlatUp, nil
	default:
		return 0, fmt.Errorf("unknown %s", trend)
	}
}

// MarginCap returns the margin cap percentage for a usage rank.
func (c Config) MarginCap(usageRank int) (float64, error) {
	group, err := GroupFor(usageRank)
	if err != nil {
		return 0, err
	}
	return c.MarginCaps.get(group), nil
}

// Uplift returns the usage uplift percentage for a usage rank.
func (c Config) Uplift(usageRank int) (float64, error) {
	group, err := GroupFor(usageRank)
	if err != nil {
		return 0, err
	}
	return c.UsageUplift.get(group), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
