package rules

import (
	"fmt"
	"strings"
)

// ConfigValidationError lists every problem found in a configuration.
// A run never starts with a configuration that produced one.
type ConfigValidationError struct {
	Problems []Problem
}

// Problem is a single invalid configuration field.
type Problem struct {
	Path string `json:"path"`
	Info string `json:"info"`
}

func (e *ConfigValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Path+": "+p.Info)
	}
	return "invalid rule config: " + strings.Join(parts, "; ")
}

func (e *ConfigValidationError) add(path, format string, args ...any) {
	e.Problems = append(e.Problems, Problem{Path: path, Info: fmt.Sprintf(format, args...)})
}

func (e *ConfigValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Validate checks every multiplier cell, threshold, cap and uplift.
func (c Config) Validate() error {
	verr := &ConfigValidationError{}

	for _, rt := range []struct {
		name  string
		table RuleTable
	}{{"rule1", c.Rule1}, {"rule2", c.Rule2}} {
		for _, g := range []struct {
			name string
			cell TrendMultipliers
		}{
			{"group1_2", rt.table.Group1_2},
			{"group3_4", rt.table.Group3_4},
			{"group5_6", rt.table.Group5_6},
		} {
			base := rt.name + "." + g.name
			if !finite(g.cell.TrendDown) {
				verr.add(base+".trend_down", "must be a finite number")
			}
			if !finite(g.cell.TrendFlatUp) {
				verr.add(base+".trend_flat_up", "must be a finite number")
			}
		}
	}

	checkNonNegative(verr, "rule1Threshold", c.Rule1Threshold)
	checkNonNegative(verr, "rule2Threshold", c.Rule2Threshold)
	checkNonNegative(verr, "lowCostCeiling", c.LowCostCeiling)

	if !finite(c.GlobalMarginFloor) || c.GlobalMarginFloor < 0 || c.GlobalMarginFloor >= 100 {
		verr.add("globalMarginFloor", "must be between 0 and 100 (exclusive)")
	}

	for _, g := range Groups {
		capPct := c.MarginCaps.get(g)
		if !finite(capPct) || capPct < 0 || capPct >= 100 {
			verr.add("marginCaps."+g.String(), "must be between 0 and 100 (exclusive)")
		}
		uplift := c.UsageUplift.get(g)
		if !finite(uplift) || uplift <= -100 {
			verr.add("usageUplift."+g.String(), "must be a finite number above -100")
		}
	}

	return verr.orNil()
}

func checkNonNegative(verr *ConfigValidationError, path string, v float64) {
	if !finite(v) {
		verr.add(path, "must be a finite number")
		return
	}
	if v < 0 {
		verr.add(path, "must be greater than or equal to 0")
	}
}
