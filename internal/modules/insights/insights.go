// Package insights computes a hotel's competitive position within its market.
package insights

import (
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Recommendation texts. Exactly one of the first three is always present.
const (
	RecommendReduce    = "Reduce rates: priced more than 10% above the competitor average"
	RecommendRaise     = "Opportunity to raise rates while remaining competitive"
	RecommendHold      = "Well positioned against competitors"
	RecommendAboveAll  = "Priced above all competitors: monitor demand closely"
	RecommendBelowAll  = "Priced below all competitors: potential revenue opportunity"
	defaultRecentDays  = 7
	defaultWindowDays  = 30
	defaultReduceAbove = 1.1
	defaultRaiseBelow  = 0.9
)

// Config holds the rule thresholds.
type Config struct {
	WindowDays  int
	RecentDays  int
	ReduceAbove float64
	RaiseBelow  float64
}

// DefaultConfig returns a 30 day window with 1.1 / 0.9 thresholds.
func DefaultConfig() Config {
	return Config{
		WindowDays:  defaultWindowDays,
		RecentDays:  defaultRecentDays,
		ReduceAbove: defaultReduceAbove,
		RaiseBelow:  defaultRaiseBelow,
	}
}

// Compute builds the insight for entityID from the market's observations. It returns nil
// when the market has no competitor observations or the target has none of its own.
func Compute(entityID, location string, market []domain.RateObservation, cfg Config, now time.Time) *domain.MarketInsight {
	var target, competitors []float64
	var targetObs []domain.RateObservation
	seen := make(map[string]bool)

	for _, o := range market {
		if o.EntityID == entityID {
			target = append(target, o.Rate)
			targetObs = append(targetObs, o)
			continue
		}
		competitors = append(competitors, o.Rate)
		seen[o.EntityID] = true
	}
	if len(competitors) == 0 || len(target) == 0 {
		return nil
	}

	avg := stat.Mean(target, nil)
	compAvg := stat.Mean(competitors, nil)
	compMin := floats.Min(competitors)
	compMax := floats.Max(competitors)

	insight := &domain.MarketInsight{
		EntityID:          entityID,
		Location:          location,
		AvgRate:           avg,
		CompetitorAvgRate: compAvg,
		CompetitorMinRate: compMin,
		CompetitorMaxRate: compMax,
		RateAdvantage:     avg - compAvg,
		ObservationCount:  len(target),
		CompetitorCount:   len(seen),
		WindowDays:        cfg.WindowDays,
		GeneratedAt:       now,
	}
	if compAvg != 0 {
		insight.MarketPositionRatio = avg / compAvg
	}

	switch {
	case avg > cfg.ReduceAbove*compAvg:
		insight.Position = domain.PositionAboveMarket
		insight.Recommendations = append(insight.Recommendations, RecommendReduce)
	case avg < cfg.RaiseBelow*compAvg:
		insight.Position = domain.PositionBelowMarket
		insight.Recommendations = append(insight.Recommendations, RecommendRaise)
	default:
		insight.Position = domain.PositionCompetitive
		insight.Recommendations = append(insight.Recommendations, RecommendHold)
	}

	if avg > compMax {
		insight.Recommendations = append(insight.Recommendations, RecommendAboveAll)
	} else if avg < compMin {
		insight.Recommendations = append(insight.Recommendations, RecommendBelowAll)
	}

	daily := dailyAverages(targetObs)
	insight.RecentAvgRate = recentMean(daily, cfg.RecentDays)
	insight.RateTrend = trendSlope(daily)

	return insight
}

// dailyAverages returns the target's mean rate per day, in date order.
func dailyAverages(obs []domain.RateObservation) []float64 {
	agg := domain.AggregateDaily(obs)
	out := make([]float64, len(agg))
	for i, o := range agg {
		out[i] = o.Rate
	}
	return out
}

// recentMean is the simple moving average over the last `days` daily values.
func recentMean(daily []float64, days int) float64 {
	if len(daily) == 0 {
		return 0
	}
	period := days
	if period <= 0 || period > len(daily) {
		period = len(daily)
	}
	if period == 1 {
		return daily[len(daily)-1]
	}
	sma := talib.Sma(daily, period)
	return sma[len(sma)-1]
}

// trendSlope is the least-squares slope per observed day over the whole window.
func trendSlope(daily []float64) float64 {
	if len(daily) < 2 {
		return 0
	}
	slope := talib.LinearRegSlope(daily, len(daily))
	return slope[len(slope)-1]
}
