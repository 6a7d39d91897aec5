// Package domain holds the core value types shared by the forecasting engine.
package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// DateLayout is the canonical day format used in keys, logs and JSON payloads.
const DateLayout = "2006-01-02"

// ErrInvalidObservation is returned for observations that can never be valid input
// (negative or non-finite rate, missing entity id, zero date).
var ErrInvalidObservation = errors.New("invalid rate observation")

// RateObservation is a single observed nightly rate for one hotel on one stay date.
type RateObservation struct {
	EntityID  string    `json:"entity_id"`
	Date      time.Time `json:"date"`
	Rate      float64   `json:"rate"`
	Source    string    `json:"source"`
	RoomType  string    `json:"room_type"`
	Available bool      `json:"availability"`
}

// Day returns the observation date truncated to a UTC calendar day.
func (o RateObservation) Day() time.Time {
	return Day(o.Date)
}

// Validate checks the observation invariants.
func (o RateObservation) Validate() error {
	if o.EntityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidObservation)
	}
	if o.Date.IsZero() {
		return fmt.Errorf("%w: zero date for entity %s", ErrInvalidObservation, o.EntityID)
	}
	if math.IsNaN(o.Rate) || math.IsInf(o.Rate, 0) || o.Rate < 0 {
		return fmt.Errorf("%w: rate %v for entity %s on %s", ErrInvalidObservation, o.Rate, o.EntityID, o.Day().Format(DateLayout))
	}
	return nil
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortObservations orders observations by day, then entity id. The sort is stable so
// same-day duplicates keep their relative order.
func SortObservations(obs []RateObservation) {
	sort.SliceStable(obs, func(i, j int) bool {
		di, dj := obs[i].Day(), obs[j].Day()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return obs[i].EntityID < obs[j].EntityID
	})
}

// AggregateDaily collapses duplicates to one observation per (entity, day): the mean rate,
// availability if any duplicate was available, and the first source and room type seen.
// The result is sorted by day, then entity id.
func AggregateDaily(obs []RateObservation) []RateObservation {
	type key struct {
		entity string
		day    time.Time
	}

	sorted := make([]RateObservation, len(obs))
	copy(sorted, obs)
	SortObservations(sorted)

	index := make(map[key]int)
	counts := make([]int, 0, len(sorted))
	result := make([]RateObservation, 0, len(sorted))

	for _, o := range sorted {
		k := key{entity: o.EntityID, day: o.Day()}
		if i, ok := index[k]; ok {
			result[i].Rate += o.Rate
			result[i].Available = result[i].Available || o.Available
			counts[i]++
			continue
		}
		o.Date = k.day
		index[k] = len(result)
		result = append(result, o)
		counts = append(counts, 1)
	}

	for i := range result {
		result[i].Rate /= float64(counts[i])
	}

	return result
}

// Hotel is the subset of hotel metadata the engine needs: its market grouping and
// whether it is one of the operator's own properties.
type Hotel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Category string `json:"category"`
	IsOwn    bool   `json:"is_own"`
}

// ForecastPoint is one predicted rate for one future day from one model variant.
type ForecastPoint struct {
	EntityID        string    `json:"entity_id"`
	Date            time.Time `json:"date"`
	PredictedRate   float64   `json:"predicted_rate"`
	ConfidenceLower float64   `json:"confidence_lower"`
	ConfidenceUpper float64   `json:"confidence_upper"`
	Variant         string    `json:"variant"`
}

// Valid reports whether the point honours lower <= predicted <= upper.
func (p ForecastPoint) Valid() bool {
	return p.ConfidenceLower <= p.PredictedRate && p.PredictedRate <= p.ConfidenceUpper
}

// MarketPosition classifies the target's average against the competitor range.
type MarketPosition string

const (
	PositionBelowMarket MarketPosition = "below_market"
	PositionCompetitive MarketPosition = "competitive"
	PositionAboveMarket MarketPosition = "above_market"
)

// MarketInsight summarizes how a hotel is priced against the rest of its market.
type MarketInsight struct {
	EntityID            string         `json:"entity_id"`
	Location            string         `json:"location"`
	AvgRate             float64        `json:"avg_rate"`
	CompetitorAvgRate   float64        `json:"competitor_avg_rate"`
	CompetitorMinRate   float64        `json:"competitor_min_rate"`
	CompetitorMaxRate   float64        `json:"competitor_max_rate"`
	RateAdvantage       float64        `json:"rate_advantage"`
	MarketPositionRatio float64        `json:"market_position_ratio"`
	Position            MarketPosition `json:"market_position"`
	RecentAvgRate       float64        `json:"recent_avg_rate"`
	RateTrend           float64        `json:"rate_trend"`
	ObservationCount    int            `json:"observation_count"`
	CompetitorCount     int            `json:"competitor_count"`
	WindowDays          int            `json:"window_days"`
	Recommendations     []string       `json:"recommendations"`
	GeneratedAt         time.Time      `json:"generated_at"`
}
