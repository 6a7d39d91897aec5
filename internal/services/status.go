package services

import (
	"sync"
	"time"
)

type statusKey struct {
	entity  string
	variant string
}

// statusTable is the in-memory lifecycle state per (entity, variant).
type statusTable struct {
	mu      sync.RWMutex
	entries map[statusKey]VariantState
}

func newStatusTable() *statusTable {
	return &statusTable{entries: make(map[statusKey]VariantState)}
}

func (t *statusTable) set(entity, variant string, state ModelState, err error) {
	st := VariantState{Variant: variant, State: state, UpdatedAt: time.Now()}
	if err != nil {
		st.Error = err.Error()
	}
	t.mu.Lock()
	t.entries[statusKey{entity, variant}] = st
	t.mu.Unlock()
}

func (t *statusTable) get(entity, variant string) (VariantState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.entries[statusKey{entity, variant}]
	return st, ok
}
