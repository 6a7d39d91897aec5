// Package features turns ordered rate observations into model-ready feature rows.
package features

import (
	"fmt"
	"sort"
)

// Date feature names, in schema order.
var dateFeatureNames = []string{
	"year",
	"month",
	"day",
	"weekday",
	"is_weekend",
	"day_of_year",
	"week_of_year",
	"quarter",
	"sin_month",
	"cos_month",
	"sin_weekday",
	"cos_weekday",
}

// Competitive feature names, in schema order.
var competitiveFeatureNames = []string{
	"rate_rank",
	"rate_percentile",
	"competitor_avg_rate",
	"rate_vs_avg",
	"rate_vs_avg_pct",
}

// Config controls which lag, rolling and competitive columns the pipeline emits.
// Two pipelines with equal configs always produce the same schema.
type Config struct {
	Lags        []int `json:"lags"`
	Windows     []int `json:"windows"`
	Competitive bool  `json:"competitive"`
}

// DefaultConfig returns lags {1, 7, 30}, windows {7, 14, 30} and no competitive columns.
func DefaultConfig() Config {
	return Config{
		Lags:    []int{1, 7, 30},
		Windows: []int{7, 14, 30},
	}
}

// Validate rejects non-positive or repeated lags and windows.
func (c Config) Validate() error {
	if err := checkPeriods("lag", c.Lags); err != nil {
		return err
	}
	return checkPeriods("window", c.Windows)
}

func checkPeriods(kind string, periods []int) error {
	seen := make(map[int]bool, len(periods))
	for _, p := range periods {
		if p < 1 {
			return fmt.Errorf("%s must be positive, got %d", kind, p)
		}
		if seen[p] {
			return fmt.Errorf("duplicate %s %d", kind, p)
		}
		seen[p] = true
	}
	return nil
}

// normalized returns a copy with sorted lags and windows so ordering in the
// configuration source does not change the schema.
func (c Config) normalized() Config {
	out := Config{
		Lags:        append([]int(nil), c.Lags...),
		Windows:     append([]int(nil), c.Windows...),
		Competitive: c.Competitive,
	}
	sort.Ints(out.Lags)
	sort.Ints(out.Windows)
	return out
}

// Schema returns the ordered feature names this configuration produces.
func (c Config) Schema() []string {
	n := c.normalized()

	names := make([]string, 0, len(dateFeatureNames)+len(n.Lags)+4*len(n.Windows)+len(competitiveFeatureNames))
	names = append(names, dateFeatureNames...)
	for _, lag := range n.Lags {
		names = append(names, lagName(lag))
	}
	for _, w := range n.Windows {
		names = append(names, rollingNames(w)...)
	}
	if n.Competitive {
		names = append(names, competitiveFeatureNames...)
	}
	return names
}

func lagName(lag int) string {
	return fmt.Sprintf("rate_lag_%d", lag)
}

func rollingNames(window int) []string {
	return []string{
		fmt.Sprintf("rate_rolling_mean_%d", window),
		fmt.Sprintf("rate_rolling_std_%d", window),
		fmt.Sprintf("rate_rolling_min_%d", window),
		fmt.Sprintf("rate_rolling_max_%d", window),
	}
}
