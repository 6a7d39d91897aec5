package features

import (
	"time"
)

// Row is one feature vector with its target rate.
// Values are aligned with the owning Set's Names.
type Row struct {
	Date     time.Time
	EntityID string
	Values   []float64
	Target   float64
}

// Set is an ordered collection of feature rows sharing one schema.
type Set struct {
	names []string
	index map[string]int
	Rows  []Row
}

// NewSet creates an empty set for the given schema.
func NewSet(names []string) *Set {
	s := &Set{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, n := range s.names {
		s.index[n] = i
	}
	return s
}

// Names returns a copy of the ordered feature names.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of rows.
func (s *Set) Len() int {
	return len(s.Rows)
}

// Get returns the named feature of row i.
func (s *Set) Get(i int, name string) (float64, bool) {
	col, ok := s.index[name]
	if !ok || i < 0 || i >= len(s.Rows) {
		return 0, false
	}
	return s.Rows[i].Values[col], true
}

// Map returns row i as a name → value map.
func (s *Set) Map(i int) map[string]float64 {
	out := make(map[string]float64, len(s.names))
	for col, name := range s.names {
		out[name] = s.Rows[i].Values[col]
	}
	return out
}

// Matrix returns the row values as a dense [rows][features] slice.
// The inner slices are shared with the set.
func (s *Set) Matrix() [][]float64 {
	out := make([][]float64, len(s.Rows))
	for i := range s.Rows {
		out[i] = s.Rows[i].Values
	}
	return out
}

// Targets returns the target rate of each row.
func (s *Set) Targets() []float64 {
	out := make([]float64, len(s.Rows))
	for i := range s.Rows {
		out[i] = s.Rows[i].Target
	}
	return out
}

// Dates returns the date of each row.
func (s *Set) Dates() []time.Time {
	out := make([]time.Time, len(s.Rows))
	for i := range s.Rows {
		out[i] = s.Rows[i].Date
	}
	return out
}

// ForEntity returns a set holding only the rows of one entity, in order.
func (s *Set) ForEntity(entityID string) *Set {
	out := NewSet(s.names)
	for _, r := range s.Rows {
		if r.EntityID == entityID {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Slice returns a set sharing rows [from, to).
func (s *Set) Slice(from, to int) *Set {
	out := NewSet(s.names)
	out.Rows = s.Rows[from:to]
	return out
}
