package forecasting

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below unwrap to these so callers can use errors.Is.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrNotTrained       = errors.New("model not trained")
	ErrSchemaMismatch   = errors.New("feature schema mismatch")
	ErrModelUnavailable = errors.New("model variant unavailable")
	ErrNumerical        = errors.New("numerical failure")
)

// InsufficientDataError is returned by Train when the dataset is smaller than the
// variant's minimum.
type InsufficientDataError struct {
	Variant string
	Have    int
	Need    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: have %d observations, need at least %d", e.Variant, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// SchemaMismatchError is returned by Predict when the dataset's feature names differ from
// the names recorded at training time, including a difference in order.
type SchemaMismatchError struct {
	Expected   []string
	Got        []string
	Missing    []string
	Unexpected []string
}

func newSchemaMismatchError(expected, got []string) *SchemaMismatchError {
	e := &SchemaMismatchError{
		Expected: append([]string(nil), expected...),
		Got:      append([]string(nil), got...),
	}

	gotSet := make(map[string]bool, len(got))
	for _, n := range got {
		gotSet[n] = true
	}
	expSet := make(map[string]bool, len(expected))
	for _, n := range expected {
		expSet[n] = true
		if !gotSet[n] {
			e.Missing = append(e.Missing, n)
		}
	}
	for _, n := range got {
		if !expSet[n] {
			e.Unexpected = append(e.Unexpected, n)
		}
	}
	return e
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Missing) == 0 && len(e.Unexpected) == 0 {
		return fmt.Sprintf("feature schema mismatch: same %d features in a different order", len(e.Expected))
	}
	return fmt.Sprintf("feature schema mismatch: missing [%s], unexpected [%s]",
		strings.Join(e.Missing, ", "), strings.Join(e.Unexpected, ", "))
}

func (e *SchemaMismatchError) Unwrap() error {
	return ErrSchemaMismatch
}

// checkSchema requires exact ordered equality.
func checkSchema(expected, got []string) error {
	if len(expected) != len(got) {
		return newSchemaMismatchError(expected, got)
	}
	for i := range expected {
		if expected[i] != got[i] {
			return newSchemaMismatchError(expected, got)
		}
	}
	return nil
}
