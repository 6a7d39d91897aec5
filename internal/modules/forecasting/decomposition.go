package forecasting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	dayPeriod    = 1.0
	weekPeriod   = 7.0
	yearPeriod   = 365.25
	secondsInDay = 24 * 60 * 60

	// Penalty numerator for the ridge prior. Intercept and slope are left almost free.
	priorBase    = 0.01
	trendPenalty = 1e-8
)

// DecompositionConfig configures the trend + seasonality variant.
type DecompositionConfig struct {
	NChangepoints         int     `msgpack:"n_changepoints"`
	ChangepointRange      float64 `msgpack:"changepoint_range"`
	ChangepointPriorScale float64 `msgpack:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `msgpack:"seasonality_prior_scale"`
	DailySeasonality      bool    `msgpack:"daily"`
	DailyOrder            int     `msgpack:"daily_order"`
	WeeklySeasonality     bool    `msgpack:"weekly"`
	WeeklyOrder           int     `msgpack:"weekly_order"`
	YearlySeasonality     bool    `msgpack:"yearly"`
	YearlyOrder           int     `msgpack:"yearly_order"`
	IntervalWidth         float64 `msgpack:"interval_width"`
	TrainFraction         float64 `msgpack:"train_fraction"`
	MinObservations       int     `msgpack:"min_observations"`
}

// DefaultDecompositionConfig mirrors the usual additive-model defaults: 25 changepoints in
// the first 80% of history, all three seasonalities and an 80% interval.
func DefaultDecompositionConfig() DecompositionConfig {
	return DecompositionConfig{
		NChangepoints:         25,
		ChangepointRange:      0.8,
		ChangepointPriorScale: 0.05,
		SeasonalityPriorScale: 10,
		DailySeasonality:      true,
		DailyOrder:            4,
		WeeklySeasonality:     true,
		WeeklyOrder:           3,
		YearlySeasonality:     true,
		YearlyOrder:           10,
		IntervalWidth:         0.8,
		TrainFraction:         0.8,
		MinObservations:       14,
	}
}

// DecompositionModel fits rate(t) = trend(t) + seasonality(t) on the raw daily series by
// ridge-regularized least squares. Trend is piecewise linear with fixed changepoints.
type DecompositionModel struct {
	cfg     DecompositionConfig
	trained bool
	state   decompositionState
}

type decompositionState struct {
	Config       DecompositionConfig `msgpack:"config"`
	StartDay     float64             `msgpack:"start_day"`
	SpanDays     float64             `msgpack:"span_days"`
	LastDay      float64             `msgpack:"last_day"`
	YScale       float64             `msgpack:"y_scale"`
	Changepoints []float64           `msgpack:"changepoints"`
	Seasonal     []seasonality       `msgpack:"seasonal"`
	Beta         []float64           `msgpack:"beta"`
	ResidualStd  float64             `msgpack:"residual_std"`
	N            int                 `msgpack:"n"`
}

// NewDecompositionModel creates an untrained decomposition model.
func NewDecompositionModel(cfg DecompositionConfig) *DecompositionModel {
	return &DecompositionModel{cfg: cfg}
}

func (m *DecompositionModel) Variant() string { return VariantDecomposition }

func (m *DecompositionModel) MinObservations() int { return minObservations(m.cfg.MinObservations) }

// Schema is always empty; this variant does not use pipeline features.
func (m *DecompositionModel) Schema() []string { return nil }

// Train evaluates on a chronological holdout, then refits on the whole series.
func (m *DecompositionModel) Train(ctx context.Context, ds Dataset) (Metrics, error) {
	series := dailySeries(ds.Series)
	n := len(series)
	if n < m.MinObservations() {
		return Metrics{}, &InsufficientDataError{Variant: VariantDecomposition, Have: n, Need: m.MinObservations()}
	}

	k := trainSize(n, m.cfg.TrainFraction)
	holdout, err := fitDecomposition(m.cfg, series[:k])
	if err != nil {
		return Metrics{}, err
	}

	actual := make([]float64, 0, n-k)
	predicted := make([]float64, 0, n-k)
	for _, p := range series[k:] {
		actual = append(actual, p.Rate)
		predicted = append(predicted, clampNonNegative(holdout.evaluate(dayNumber(p.Date))))
	}
	metrics := Evaluate(actual, predicted)
	metrics.TrainSize = k
	metrics.TestSize = n - k

	if err := ctx.Err(); err != nil {
		return Metrics{}, err
	}

	full, err := fitDecomposition(m.cfg, series)
	if err != nil {
		return Metrics{}, err
	}

	m.state = *full
	m.trained = true
	return metrics, nil
}

// Predict forecasts the given dates. Intervals widen with distance from the last training day.
func (m *DecompositionModel) Predict(ctx context.Context, ds Dataset) ([]Prediction, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	if err := checkSchema(nil, ds.Schema()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	z := distuv.UnitNormal.Quantile(0.5 + m.state.Config.IntervalWidth/2)

	out := make([]Prediction, len(ds.Dates))
	for i, date := range ds.Dates {
		d := dayNumber(date)
		yhat := m.state.evaluate(d)

		h := d - m.state.LastDay
		if h < 0 {
			h = 0
		}
		half := z * m.state.ResidualStd * math.Sqrt(1+h/float64(m.state.N))

		v := clampNonNegative(yhat)
		out[i] = Prediction{
			Date:  domain.Day(date),
			Value: v,
			Lower: clampNonNegative(yhat - half),
			Upper: math.Max(v, yhat+half),
		}
	}
	return out, nil
}

func (m *DecompositionModel) Save() ([]byte, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	data, err := msgpack.Marshal(&m.state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decomposition state: %w", err)
	}
	return data, nil
}

func (m *DecompositionModel) Load(data []byte) error {
	var st decompositionState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode decomposition state: %w", err)
	}
	if len(st.Beta) == 0 {
		return fmt.Errorf("failed to decode decomposition state: no coefficients")
	}
	m.state = st
	m.trained = true
	return nil
}

// dailySeries sorts points by day and averages same-day duplicates.
func dailySeries(points []SeriesPoint) []SeriesPoint {
	sorted := make([]SeriesPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	out := make([]SeriesPoint, 0, len(sorted))
	counts := make([]int, 0, len(sorted))
	for _, p := range sorted {
		day := domain.Day(p.Date)
		if len(out) > 0 && out[len(out)-1].Date.Equal(day) {
			out[len(out)-1].Rate += p.Rate
			counts[len(counts)-1]++
			continue
		}
		out = append(out, SeriesPoint{Date: day, Rate: p.Rate})
		counts = append(counts, 1)
	}
	for i := range out {
		out[i].Rate /= float64(counts[i])
	}
	return out
}

// dayNumber is days since the Unix epoch, so Fourier phases follow the calendar.
func dayNumber(t time.Time) float64 {
	return float64(domain.Day(t).Unix()) / secondsInDay
}

func fitDecomposition(cfg DecompositionConfig, series []SeriesPoint) (*decompositionState, error) {
	n := len(series)
	days := make([]float64, n)
	y := make([]float64, n)
	var yScale float64
	for i, p := range series {
		days[i] = dayNumber(p.Date)
		y[i] = p.Rate
		yScale = math.Max(yScale, math.Abs(p.Rate))
	}
	if yScale == 0 {
		yScale = 1
	}

	st := &decompositionState{
		Config:   cfg,
		StartDay: days[0],
		SpanDays: days[n-1] - days[0],
		LastDay:  days[n-1],
		YScale:   yScale,
		N:        n,
	}
	if st.SpanDays <= 0 {
		st.SpanDays = 1
	}
	st.Changepoints = placeChangepoints(cfg, days, st)
	st.Seasonal = cfg.seasonalities(days[n-1] - days[0])

	cols := st.columns()
	design := mat.NewDense(n, cols, nil)
	row := make([]float64, cols)
	for i, d := range days {
		st.designRow(d, row)
		design.SetRow(i, row)
	}
	target := mat.NewVecDense(n, nil)
	for i := range y {
		target.SetVec(i, y[i]/yScale)
	}

	beta, err := ridgeSolve(design, target, st.penalties())
	if err != nil {
		return nil, err
	}
	st.Beta = beta

	resid := make([]float64, n)
	for i, d := range days {
		resid[i] = y[i] - st.evaluate(d)
	}
	if n > 1 {
		st.ResidualStd = stat.StdDev(resid, nil)
	}
	if math.IsNaN(st.ResidualStd) || math.IsInf(st.ResidualStd, 0) {
		return nil, fmt.Errorf("%w: residual spread is not finite", ErrNumerical)
	}

	return st, nil
}

// placeChangepoints spreads changepoints over observed days inside the changepoint range,
// skipping the first observation.
func placeChangepoints(cfg DecompositionConfig, days []float64, st *decompositionState) []float64 {
	limit := int(math.Floor(cfg.ChangepointRange * float64(len(days))))
	count := cfg.NChangepoints
	if count > limit-1 {
		count = limit - 1
	}
	if count <= 0 {
		return nil
	}

	out := make([]float64, 0, count)
	for i := 1; i <= count; i++ {
		idx := int(math.Round(float64(i) * float64(limit-1) / float64(count)))
		cp := (days[idx] - st.StartDay) / st.SpanDays
		if len(out) > 0 && out[len(out)-1] == cp {
			continue
		}
		out = append(out, cp)
	}
	return out
}

type seasonality struct {
	Period float64 `msgpack:"period"`
	Order  int     `msgpack:"order"`
}

// seasonalities returns the enabled components whose period the history covers twice.
// A shorter history cannot separate the component from the trend.
func (c DecompositionConfig) seasonalities(spanDays float64) []seasonality {
	var out []seasonality
	if c.DailySeasonality && c.DailyOrder > 0 {
		out = append(out, seasonality{Period: dayPeriod, Order: c.DailyOrder})
	}
	if c.WeeklySeasonality && c.WeeklyOrder > 0 {
		out = append(out, seasonality{Period: weekPeriod, Order: c.WeeklyOrder})
	}
	if c.YearlySeasonality && c.YearlyOrder > 0 {
		out = append(out, seasonality{Period: yearPeriod, Order: c.YearlyOrder})
	}
	active := out[:0]
	for _, sn := range out {
		if spanDays >= 2*sn.Period {
			active = append(active, sn)
		}
	}
	return active
}

func (st *decompositionState) columns() int {
	cols := 2 + len(st.Changepoints)
	for _, s := range st.Seasonal {
		cols += 2 * s.Order
	}
	return cols
}

// designRow writes [1, t, (t-c_k)+..., sin/cos Fourier terms...] for day d.
func (st *decompositionState) designRow(d float64, row []float64) {
	t := (d - st.StartDay) / st.SpanDays
	row[0] = 1
	row[1] = t
	col := 2
	for _, cp := range st.Changepoints {
		row[col] = math.Max(0, t-cp)
		col++
	}
	for _, s := range st.Seasonal {
		for k := 1; k <= s.Order; k++ {
			arg := 2 * math.Pi * float64(k) * d / s.Period
			row[col] = math.Sin(arg)
			row[col+1] = math.Cos(arg)
			col += 2
		}
	}
}

func (st *decompositionState) penalties() []float64 {
	out := make([]float64, st.columns())
	out[0], out[1] = trendPenalty, trendPenalty
	cpPenalty := priorBase / (st.Config.ChangepointPriorScale * st.Config.ChangepointPriorScale)
	seasonPenalty := priorBase / (st.Config.SeasonalityPriorScale * st.Config.SeasonalityPriorScale)
	col := 2
	for range st.Changepoints {
		out[col] = cpPenalty
		col++
	}
	for ; col < len(out); col++ {
		out[col] = seasonPenalty
	}
	return out
}

func (st *decompositionState) evaluate(d float64) float64 {
	row := make([]float64, len(st.Beta))
	st.designRow(d, row)
	var sum float64
	for i, b := range st.Beta {
		sum += b * row[i]
	}
	return sum * st.YScale
}

// ridgeSolve solves (XᵀX + diag(λ)) β = Xᵀy, via Cholesky with a general solve as fallback.
func ridgeSolve(x *mat.Dense, y *mat.VecDense, penalties []float64) ([]float64, error) {
	_, cols := x.Dims()

	var gram mat.SymDense
	gram.SymOuterK(1, x.T())
	for i, p := range penalties {
		gram.SetSym(i, i, gram.At(i, i)+p)
	}

	var rhs mat.VecDense
	rhs.MulVec(x.T(), y)

	var beta mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(&gram) {
		if err := chol.SolveVecTo(&beta, &rhs); err == nil {
			return vecToSlice(&beta, cols)
		}
	}

	if err := beta.SolveVec(&gram, &rhs); err != nil {
		return nil, fmt.Errorf("%w: failed to solve decomposition system: %v", ErrNumerical, err)
	}
	return vecToSlice(&beta, cols)
}

func vecToSlice(v *mat.VecDense, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		out[i] = v.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, fmt.Errorf("%w: coefficient %d is not finite", ErrNumerical, i)
		}
	}
	return out, nil
}
