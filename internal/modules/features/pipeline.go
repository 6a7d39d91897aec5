package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Pipeline builds feature sets. It holds no state beyond its configuration and is safe
// for concurrent use.
type Pipeline struct {
	cfg    Config
	schema []string
}

// NewPipeline validates cfg and returns a pipeline for it.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature config: %w", err)
	}
	n := cfg.normalized()
	return &Pipeline{cfg: n, schema: n.Schema()}, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Schema returns the ordered feature names every Build call produces.
func (p *Pipeline) Schema() []string {
	return append([]string(nil), p.schema...)
}

// Build derives one row per (entity, day) from the observations. Same-day duplicates are
// averaged first. Rows are ordered by date, then entity id, and every value is defined.
func (p *Pipeline) Build(observations []domain.RateObservation) (*Set, error) {
	for i := range observations {
		if err := observations[i].Validate(); err != nil {
			return nil, err
		}
	}

	daily := domain.AggregateDaily(observations)
	set := NewSet(p.schema)
	set.Rows = make([]Row, len(daily))

	for i, o := range daily {
		values := make([]float64, len(p.schema))
		for j := range values {
			values[j] = math.NaN()
		}
		writeDateFeatures(values, o.Date)
		set.Rows[i] = Row{Date: o.Date, EntityID: o.EntityID, Values: values, Target: o.Rate}
	}

	series := entitySeries(daily)

	lagCols := p.addLagFeatures(set, series)
	forwardFill(set, series, lagCols)

	rollingCols := p.addRollingFeatures(set, series)
	forwardFill(set, series, rollingCols)

	if p.cfg.Competitive {
		compCols := p.addCompetitiveFeatures(set)
		forwardFill(set, series, compCols)
	}

	all := make([]int, len(p.schema))
	for i := range all {
		all[i] = i
	}
	forwardFill(set, series, all)
	zeroFill(set)

	return set, nil
}

func writeDateFeatures(values []float64, date time.Time) {
	weekday := mondayWeekday(date)
	_, isoWeek := date.ISOWeek()
	month := float64(date.Month())

	values[0] = float64(date.Year())
	values[1] = month
	values[2] = float64(date.Day())
	values[3] = float64(weekday)
	if weekday >= 5 {
		values[4] = 1
	} else {
		values[4] = 0
	}
	values[5] = float64(date.YearDay())
	values[6] = float64(isoWeek)
	values[7] = float64((int(date.Month())-1)/3 + 1)
	values[8] = math.Sin(2 * math.Pi * month / 12)
	values[9] = math.Cos(2 * math.Pi * month / 12)
	values[10] = math.Sin(2 * math.Pi * float64(weekday) / 7)
	values[11] = math.Cos(2 * math.Pi * float64(weekday) / 7)
}

// mondayWeekday maps Monday to 0 and Sunday to 6.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// entitySeries returns, per entity, the row indexes of that entity in date order.
func entitySeries(rows []domain.RateObservation) [][]int {
	byEntity := make(map[string][]int)
	var order []string
	for i, o := range rows {
		if _, ok := byEntity[o.EntityID]; !ok {
			order = append(order, o.EntityID)
		}
		byEntity[o.EntityID] = append(byEntity[o.EntityID], i)
	}
	sort.Strings(order)

	out := make([][]int, 0, len(order))
	for _, id := range order {
		out = append(out, byEntity[id])
	}
	return out
}

func (p *Pipeline) addLagFeatures(set *Set, series [][]int) []int {
	cols := make([]int, 0, len(p.cfg.Lags))
	for _, lag := range p.cfg.Lags {
		col := set.index[lagName(lag)]
		cols = append(cols, col)
		for _, idx := range series {
			for pos := lag; pos < len(idx); pos++ {
				set.Rows[idx[pos]].Values[col] = set.Rows[idx[pos-lag]].Target
			}
		}
	}
	return cols
}

func (p *Pipeline) addRollingFeatures(set *Set, series [][]int) []int {
	cols := make([]int, 0, 4*len(p.cfg.Windows))
	for _, w := range p.cfg.Windows {
		names := rollingNames(w)
		meanCol, stdCol := set.index[names[0]], set.index[names[1]]
		minCol, maxCol := set.index[names[2]], set.index[names[3]]
		cols = append(cols, meanCol, stdCol, minCol, maxCol)

		for _, idx := range series {
			window := make([]float64, 0, w)
			for pos := range idx {
				start := pos - w + 1
				if start < 0 {
					start = 0
				}
				window = window[:0]
				for k := start; k <= pos; k++ {
					window = append(window, set.Rows[idx[k]].Target)
				}

				v := set.Rows[idx[pos]].Values
				v[meanCol] = stat.Mean(window, nil)
				if len(window) > 1 {
					v[stdCol] = stat.StdDev(window, nil)
				}
				v[minCol] = floats.Min(window)
				v[maxCol] = floats.Max(window)
			}
		}
	}
	return cols
}

// addCompetitiveFeatures ranks entities per date. Dates with a single entity are left
// undefined for the fill policy.
func (p *Pipeline) addCompetitiveFeatures(set *Set) []int {
	rankCol := set.index["rate_rank"]
	pctCol := set.index["rate_percentile"]
	meanCol := set.index["competitor_avg_rate"]
	diffCol := set.index["rate_vs_avg"]
	diffPctCol := set.index["rate_vs_avg_pct"]

	for start := 0; start < len(set.Rows); {
		end := start + 1
		for end < len(set.Rows) && set.Rows[end].Date.Equal(set.Rows[start].Date) {
			end++
		}
		if end-start >= 2 {
			rankGroup(set, start, end, rankCol, pctCol, meanCol, diffCol, diffPctCol)
		}
		start = end
	}

	return []int{rankCol, pctCol, meanCol, diffCol, diffPctCol}
}

func rankGroup(set *Set, start, end, rankCol, pctCol, meanCol, diffCol, diffPctCol int) {
	n := end - start
	order := make([]int, 0, n)
	rates := make([]float64, 0, n)
	for i := start; i < end; i++ {
		order = append(order, i)
		rates = append(rates, set.Rows[i].Target)
	}
	mean := stat.Mean(rates, nil)

	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := set.Rows[order[a]], set.Rows[order[b]]
		if ra.Target != rb.Target {
			return ra.Target > rb.Target
		}
		return ra.EntityID < rb.EntityID
	})

	for pos, i := range order {
		rank := pos + 1
		v := set.Rows[i].Values
		v[rankCol] = float64(rank)
		v[pctCol] = float64(n-rank+1) / float64(n)
		v[meanCol] = mean
		v[diffCol] = set.Rows[i].Target - mean
		if mean != 0 {
			v[diffPctCol] = (set.Rows[i].Target - mean) / mean * 100
		}
	}
}

// forwardFill carries the last defined value of each column forward along each entity's series.
func forwardFill(set *Set, series [][]int, cols []int) {
	for _, idx := range series {
		for _, col := range cols {
			last := math.NaN()
			for _, i := range idx {
				v := set.Rows[i].Values
				if math.IsNaN(v[col]) {
					v[col] = last
				} else {
					last = v[col]
				}
			}
		}
	}
}

func zeroFill(set *Set) {
	for i := range set.Rows {
		v := set.Rows[i].Values
		for j := range v {
			if math.IsNaN(v[j]) || math.IsInf(v[j], 0) {
				v[j] = 0
			}
		}
	}
}
