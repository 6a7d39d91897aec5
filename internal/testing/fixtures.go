package testing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/rateintel/internal/domain"
)

// NewHotelFixtures returns an own hotel and a competitor in athens plus a lone hotel in
// delphi.
func NewHotelFixtures() []domain.Hotel {
	return []domain.Hotel{
		{ID: "own", Name: "Own Hotel", Location: "athens", Category: "4*", IsOwn: true},
		{ID: "rival", Name: "Rival Hotel", Location: "athens", Category: "4*"},
		{ID: "loner", Name: "Lone Hotel", Location: "delphi", Category: "3*", IsOwn: true},
	}
}

// WeeklyRates returns n daily observations starting at start whose rate follows a weekly
// sine wave around base.
func WeeklyRates(entityID string, start time.Time, n int, base, amplitude float64) []domain.RateObservation {
	out := make([]domain.RateObservation, n)
	for i := range out {
		out[i] = domain.RateObservation{
			EntityID:  entityID,
			Date:      domain.Day(start).AddDate(0, 0, i),
			Rate:      base + amplitude*math.Sin(2*math.Pi*float64(i)/7),
			Source:    "fixture",
			Available: true,
		}
	}
	return out
}

// RatesCSV renders observations in the import format, taking location and ownership from
// hotels.
func RatesCSV(hotels []domain.Hotel, obs []domain.RateObservation) string {
	byID := make(map[string]domain.Hotel, len(hotels))
	for _, h := range hotels {
		byID[h.ID] = h
	}

	var b strings.Builder
	b.WriteString("hotel_id,name,location,is_own,date,rate\n")
	for _, o := range obs {
		h := byID[o.EntityID]
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%.2f\n",
			o.EntityID, h.Name, h.Location, strconv.FormatBool(h.IsOwn), o.Date.Format(domain.DateLayout), o.Rate)
	}
	return b.String()
}
