package domain

import (
	"context"
	"time"
)

// RateStore provides read access to collected rate observations and hotel metadata.
// Implementations return observations ordered by date ascending; from/to are inclusive
// bounds and nil means unbounded.
type RateStore interface {
	// ListObservations returns the observations for one hotel.
	ListObservations(ctx context.Context, entityID string, from, to *time.Time) ([]RateObservation, error)

	// ListObservationsForMarket returns observations for every hotel in a location.
	ListObservationsForMarket(ctx context.Context, location string, from, to *time.Time) ([]RateObservation, error)

	// LocationOf returns the market grouping of a hotel, or "" if the hotel is unknown.
	LocationOf(ctx context.Context, entityID string) (string, error)

	// ListOwnHotels returns the hotels flagged as the operator's own properties.
	ListOwnHotels(ctx context.Context) ([]Hotel, error)
}
