package work

import (
	"strings"
	"sync"
	"time"
)

// CompletionTracker records when each (work type, subject) last completed.
type CompletionTracker struct {
	completions map[string]time.Time
	now         func() time.Time
	mu          sync.RWMutex
}

// NewCompletionTracker creates a new completion tracker.
func NewCompletionTracker() *CompletionTracker {
	return &CompletionTracker{
		completions: make(map[string]time.Time),
		now:         time.Now,
	}
}

// MarkCompleted records that a work item has completed now.
func (t *CompletionTracker) MarkCompleted(item *WorkItem) {
	t.MarkCompletedAt(item, t.now())
}

// MarkCompletedAt records that a work item completed at a specific time.
func (t *CompletionTracker) MarkCompletedAt(item *WorkItem, completedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completions[makeKey(item.TypeID, item.Subject)] = completedAt
}

// GetCompletion returns when a work type/subject combination last completed.
func (t *CompletionTracker) GetCompletion(typeID, subject string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	completedAt, exists := t.completions[makeKey(typeID, subject)]
	return completedAt, exists
}

// IsStale reports whether the work should run again: it never completed, it is
// on-demand (zero interval), or the interval has elapsed.
func (t *CompletionTracker) IsStale(typeID, subject string, interval time.Duration) bool {
	if interval == 0 {
		return true
	}
	completedAt, exists := t.GetCompletion(typeID, subject)
	if !exists {
		return true
	}
	return t.now().Sub(completedAt) > interval
}

// ClearByTypeID forgets every subject's completion of a work type, making all of them
// eligible again. Used after bulk imports invalidate trained models.
func (t *CompletionTracker) ClearByTypeID(typeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.completions {
		if key == typeID || strings.HasPrefix(key, typeID+":") {
			delete(t.completions, key)
		}
	}
}
