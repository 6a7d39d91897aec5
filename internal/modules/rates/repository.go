// Package rates provides the SQLite-backed rate store.
// This file implements the Repository, which handles hotels and rate observations stored
// in rates.db. It is the engine's only source of historical rates and market groupings.
package rates

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/rateintel/internal/database"
	"github.com/aristath/rateintel/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles rates database operations and implements domain.RateStore.
//
// Stay dates are stored as YYYY-MM-DD text so range filters compare lexically and
// observations order naturally by date.
//
// Database: rates.db (hotels, rate_observations tables)
type Repository struct {
	db  *sql.DB        // rates.db
	log zerolog.Logger // Structured logger
}

var _ domain.RateStore = (*Repository)(nil)

// NewRepository creates a new rates repository.
//
// Parameters:
//   - db: Database connection to rates.db
//   - log: Structured logger
//
// Returns:
//   - *Repository: Initialized repository instance
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "rates").Logger(),
	}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// hotelPatch carries the hotel fields to write. Nil fields keep the stored value on update
// and take the column default on insert.
type hotelPatch struct {
	ID       string
	Name     *string
	Location *string
	Category *string
	IsOwn    *bool
}

func fullPatch(h domain.Hotel) hotelPatch {
	return hotelPatch{ID: h.ID, Name: &h.Name, Location: &h.Location, Category: &h.Category, IsOwn: &h.IsOwn}
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

func patchHotel(ctx context.Context, ex execer, p hotelPatch) error {
	if p.ID == "" {
		return fmt.Errorf("hotel id is required")
	}
	fields := []interface{}{nullString(p.Name), nullString(p.Location), nullString(p.Category), nullBool(p.IsOwn)}
	args := append(append([]interface{}{p.ID}, fields...), fields...)
	_, err := ex.ExecContext(ctx, `
		INSERT INTO hotels (id, name, location, category, is_own)
		VALUES (?, COALESCE(?, ''), COALESCE(?, ''), COALESCE(?, ''), COALESCE(?, 0))
		ON CONFLICT(id) DO UPDATE SET
			name = COALESCE(?, hotels.name),
			location = COALESCE(?, hotels.location),
			category = COALESCE(?, hotels.category),
			is_own = COALESCE(?, hotels.is_own)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert hotel %s: %w", p.ID, err)
	}
	return nil
}

// UpsertHotel inserts a hotel or replaces all of its metadata.
func (r *Repository) UpsertHotel(ctx context.Context, h domain.Hotel) error {
	return patchHotel(ctx, r.db, fullPatch(h))
}

// GetHotel retrieves a hotel by id.
// Returns nil if the hotel doesn't exist (not an error).
func (r *Repository) GetHotel(ctx context.Context, id string) (*domain.Hotel, error) {
	var h domain.Hotel
	var isOwn int
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, location, category, is_own FROM hotels WHERE id = ?", id,
	).Scan(&h.ID, &h.Name, &h.Location, &h.Category, &isOwn)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hotel %s: %w", id, err)
	}
	h.IsOwn = isOwn != 0
	return &h, nil
}

// ListOwnHotels returns the hotels flagged as own properties, ordered by id.
func (r *Repository) ListOwnHotels(ctx context.Context) ([]domain.Hotel, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, location, category, is_own FROM hotels WHERE is_own = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list own hotels: %w", err)
	}
	defer rows.Close()

	var hotels []domain.Hotel
	for rows.Next() {
		var h domain.Hotel
		var isOwn int
		if err := rows.Scan(&h.ID, &h.Name, &h.Location, &h.Category, &isOwn); err != nil {
			return nil, fmt.Errorf("failed to scan hotel: %w", err)
		}
		h.IsOwn = isOwn != 0
		hotels = append(hotels, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hotels: %w", err)
	}
	return hotels, nil
}

// LocationOf returns the market grouping of a hotel, or "" for an unknown hotel.
func (r *Repository) LocationOf(ctx context.Context, entityID string) (string, error) {
	h, err := r.GetHotel(ctx, entityID)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", nil
	}
	return h.Location, nil
}

// InsertObservations stores observations in one transaction. Hotels referenced by the
// observations must already exist.
//
// Returns:
//   - int: Number of rows inserted
//   - error: Error if validation or the database operation fails; nothing is stored then
func (r *Repository) InsertObservations(ctx context.Context, obs []domain.RateObservation) (int, error) {
	for i := range obs {
		if err := obs[i].Validate(); err != nil {
			return 0, err
		}
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		return insertObservations(ctx, tx, obs)
	})
	if err != nil {
		return 0, err
	}

	r.log.Debug().Int("count", len(obs)).Msg("Inserted rate observations")
	return len(obs), nil
}

func insertObservations(ctx context.Context, tx *sql.Tx, obs []domain.RateObservation) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rate_observations (hotel_id, date, rate, source, room_type, available)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx,
			o.EntityID, o.Day().Format(domain.DateLayout), o.Rate, o.Source, o.RoomType, boolToInt(o.Available),
		); err != nil {
			return fmt.Errorf("failed to insert observation for %s: %w", o.EntityID, err)
		}
	}
	return nil
}

// ListObservations returns one hotel's observations ordered by date, within the inclusive
// [from, to] range. Nil bounds are open.
func (r *Repository) ListObservations(ctx context.Context, entityID string, from, to *time.Time) ([]domain.RateObservation, error) {
	where, args := rangeClause("o.hotel_id = ?", []interface{}{entityID}, from, to)
	return r.query(ctx, where, args)
}

// ListObservationsForMarket returns observations for every hotel sharing location,
// ordered by date then hotel id.
func (r *Repository) ListObservationsForMarket(ctx context.Context, location string, from, to *time.Time) ([]domain.RateObservation, error) {
	where, args := rangeClause("h.location = ?", []interface{}{location}, from, to)
	return r.query(ctx, where, args)
}

func rangeClause(base string, args []interface{}, from, to *time.Time) (string, []interface{}) {
	clauses := []string{base}
	if from != nil {
		clauses = append(clauses, "o.date >= ?")
		args = append(args, domain.Day(*from).Format(domain.DateLayout))
	}
	if to != nil {
		clauses = append(clauses, "o.date <= ?")
		args = append(args, domain.Day(*to).Format(domain.DateLayout))
	}
	return strings.Join(clauses, " AND "), args
}

func (r *Repository) query(ctx context.Context, where string, args []interface{}) ([]domain.RateObservation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.hotel_id, o.date, o.rate, o.source, o.room_type, o.available
		FROM rate_observations o
		JOIN hotels h ON h.id = o.hotel_id
		WHERE `+where+`
		ORDER BY o.date ASC, o.hotel_id ASC, o.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var obs []domain.RateObservation
	for rows.Next() {
		var o domain.RateObservation
		var date string
		var available int
		if err := rows.Scan(&o.EntityID, &date, &o.Rate, &o.Source, &o.RoomType, &available); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Date, err = time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q for %s: %w", date, o.EntityID, err)
		}
		o.Available = available != 0
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}
	return obs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
