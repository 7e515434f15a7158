package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/viper"
)

// document mirrors Config with pointer fields so that absent values can be
// told apart from zeros. Multiplier cells are required; everything else
// falls back to Default.
type document struct {
	Rule1             *tableDoc `json:"rule1" mapstructure:"rule1"`
	Rule2             *tableDoc `json:"rule2" mapstructure:"rule2"`
	Rule1Threshold    *float64  `json:"rule1Threshold" mapstructure:"rule1threshold"`
	Rule2Threshold    *float64  `json:"rule2Threshold" mapstructure:"rule2threshold"`
	MarginCaps        *groupDoc `json:"marginCaps" mapstructure:"margincaps"`
	LowCostCeiling    *float64  `json:"lowCostCeiling" mapstructure:"lowcostceiling"`
	UsageUplift       *groupDoc `json:"usageUplift" mapstructure:"usageuplift"`
	GlobalMarginFloor *float64  `json:"globalMarginFloor" mapstructure:"globalmarginfloor"`
}

type tableDoc struct {
	Group1_2 *cellDoc `json:"group1_2" mapstructure:"group1_2"`
	Group3_4 *cellDoc `json:"group3_4" mapstructure:"group3_4"`
	Group5_6 *cellDoc `json:"group5_6" mapstructure:"group5_6"`
}

type cellDoc struct {
	TrendDown   *float64 `json:"trend_down" mapstructure:"trend_down"`
	TrendFlatUp *float64 `json:"trend_flat_up" mapstructure:"trend_flat_up"`
}

type groupDoc struct {
	Group1_2 *float64 `json:"group1_2" mapstructure:"group1_2"`
	Group3_4 *float64 `json:"group3_4" mapstructure:"group3_4"`
	Group5_6 *float64 `json:"group5_6" mapstructure:"group5_6"`
}

// Parse decodes a JSON configuration and validates it.
func Parse(data []byte) (Config, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		verr := &ConfigValidationError{}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			verr.add(typeErr.Field, "must be a number")
		} else {
			verr.add("$", "malformed document: %v", err)
		}
		return Config{}, verr
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		verr := &ConfigValidationError{}
		verr.add("$", "unexpected data after document")
		return Config{}, verr
	}
	return doc.config()
}

// LoadFile reads a configuration file (YAML, JSON or TOML, picked from the
// extension) and validates it.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read rules file: %w", err)
	}

	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		verr := &ConfigValidationError{}
		verr.add("$", "decode rules file: %v", err)
		return Config{}, verr
	}

	return doc.config()
}

func (d document) config() (Config, error) {
	cfg := Default()
	verr := &ConfigValidationError{}

	cfg.Rule1 = d.Rule1.table("rule1", verr)
	cfg.Rule2 = d.Rule2.table("rule2", verr)

	setIfPresent(&cfg.Rule1Threshold, d.Rule1Threshold)
	setIfPresent(&cfg.Rule2Threshold, d.Rule2Threshold)
	setIfPresent(&cfg.LowCostCeiling, d.LowCostCeiling)
	setIfPresent(&cfg.GlobalMarginFloor, d.GlobalMarginFloor)
	d.MarginCaps.apply(&cfg.MarginCaps)
	d.UsageUplift.apply(&cfg.UsageUplift)

	if err := verr.orNil(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (t *tableDoc) table(name string, verr *ConfigValidationError) RuleTable {
	if t == nil {
		verr.add(name, "is required")
		return RuleTable{}
	}
	return RuleTable{
		Group1_2: t.Group1_2.cell(name+".group1_2", verr),
		Group3_4: t.Group3_4.cell(name+".group3_4", verr),
		Group5_6: t.Group5_6.cell(name+".group5_6", verr),
	}
}

func (c *cellDoc) cell(path string, verr *ConfigValidationError) TrendMultipliers {
	if c == nil {
		verr.add(path, "is required")
		return TrendMultipliers{}
	}
	var out TrendMultipliers
	if c.TrendDown == nil {
		verr.add(path+".trend_down", "is required")
	} else {
		out.TrendDown = *c.TrendDown
	}
	if c.TrendFlatUp == nil {
		verr.add(path+".trend_flat_up", "is required")
	} else {
		out.TrendFlatUp = *c.TrendFlatUp
	}
	return out
}

func (g *groupDoc) apply(dst *GroupValues) {
	if g == nil {
		return
	}
	setIfPresent(&dst.Group1_2, g.Group1_2)
	setIfPresent(&dst.Group3_4, g.Group3_4)
	setIfPresent(&dst.Group5_6, g.Group5_6)
}

func setIfPresent(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
