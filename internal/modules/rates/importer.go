package rates

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/rateintel/internal/database"
	"github.com/aristath/rateintel/internal/domain"
)

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Hotels       int `json:"hotels"`
	Observations int `json:"observations"`
}

// ImportCSV loads observations from CSV with a header row. Required columns are hotel_id,
// date (YYYY-MM-DD) and rate; optional columns are name, location, category, is_own,
// source, room_type and available. Hotel metadata is taken from the first non-empty cell
// per column and only those fields are written, so re-importing rates for a known hotel
// never clears its name or ownership. Every row is validated before anything is written
// and the hotels and observations are stored in one transaction: a bad row stores nothing.
func (r *Repository) ImportCSV(ctx context.Context, src io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(src)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"hotel_id", "date", "rate"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv is missing required column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	hotels := make(map[string]*hotelPatch)
	var order []string
	var obs []domain.RateObservation

	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		id := field(rec, "hotel_id")
		if id == "" {
			return nil, fmt.Errorf("line %d: hotel_id is required", line)
		}
		date, err := time.Parse(domain.DateLayout, field(rec, "date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date: %w", line, err)
		}
		rate, err := strconv.ParseFloat(field(rec, "rate"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid rate: %w", line, err)
		}
		available := true
		if v := field(rec, "available"); v != "" {
			if available, err = strconv.ParseBool(v); err != nil {
				return nil, fmt.Errorf("line %d: invalid available flag: %w", line, err)
			}
		}

		patch, seen := hotels[id]
		if !seen {
			patch = &hotelPatch{ID: id}
			hotels[id] = patch
			order = append(order, id)
		}
		if err := mergeHotelFields(patch, func(name string) string { return field(rec, name) }); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		o := domain.RateObservation{
			EntityID:  id,
			Date:      date,
			Rate:      rate,
			Source:    field(rec, "source"),
			RoomType:  field(rec, "room_type"),
			Available: available,
		}
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		obs = append(obs, o)
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, id := range order {
			if err := patchHotel(ctx, tx, *hotels[id]); err != nil {
				return err
			}
		}
		return insertObservations(ctx, tx, obs)
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().Int("hotels", len(order)).Int("observations", len(obs)).Msg("Imported rate observations")
	return &ImportResult{Hotels: len(order), Observations: len(obs)}, nil
}

// mergeHotelFields fills the patch fields still unset from non-empty cells.
func mergeHotelFields(p *hotelPatch, cell func(string) string) error {
	for _, f := range []struct {
		name string
		dst  **string
	}{
		{"name", &p.Name},
		{"location", &p.Location},
		{"category", &p.Category},
	} {
		if *f.dst == nil {
			if v := cell(f.name); v != "" {
				*f.dst = &v
			}
		}
	}
	if p.IsOwn == nil {
		if v := cell("is_own"); v != "" {
			isOwn, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid is_own flag: %w", err)
			}
			p.IsOwn = &isOwn
		}
	}
	return nil
}
