package work

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseWorkID(t *testing.T) {
	tests := []struct {
		id, typeID, subject string
	}{
		{"forecast:train", "forecast:train", ""},
		{"forecast:train:hotel-1", "forecast:train", "hotel-1"},
		{"forecast:train:ota:123", "forecast:train", "ota:123"},
	}
	for _, tt := range tests {
		typeID, subject := ParseWorkID(tt.id)
		assert.Equal(t, tt.typeID, typeID, tt.id)
		assert.Equal(t, tt.subject, subject, tt.id)
	}
}

func TestNewWorkItem(t *testing.T) {
	wt := &WorkType{ID: "forecast:train"}
	assert.Equal(t, "forecast:train:h1", NewWorkItem(wt, "h1").ID)
	assert.Equal(t, "forecast:train", NewWorkItem(wt, "").ID)
}

func TestRegistry_ByPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(&WorkType{ID: "b", Priority: PriorityLow})
	r.Register(&WorkType{ID: "a", Priority: PriorityLow})
	r.Register(&WorkType{ID: "c", Priority: PriorityHigh})

	var ids []string
	for _, wt := range r.ByPriority() {
		ids = append(ids, wt.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	r.Remove("c")
	assert.Equal(t, 2, r.Count())
	assert.Nil(t, r.Get("c"))
}

func TestCompletionTracker_IsStale(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewCompletionTracker()
	tr.now = func() time.Time { return now }

	item := &WorkItem{TypeID: WorkTypeTrain, Subject: "h1"}
	assert.True(t, tr.IsStale(WorkTypeTrain, "h1", 24*time.Hour))

	tr.MarkCompletedAt(item, now.Add(-time.Hour))
	assert.False(t, tr.IsStale(WorkTypeTrain, "h1", 24*time.Hour))
	assert.True(t, tr.IsStale(WorkTypeTrain, "h1", 0))

	tr.MarkCompletedAt(item, now.Add(-25*time.Hour))
	assert.True(t, tr.IsStale(WorkTypeTrain, "h1", 24*time.Hour))

	tr.MarkCompleted(item)
	tr.MarkCompleted(&WorkItem{TypeID: WorkTypeInsight, Subject: "h1"})
	tr.ClearByTypeID(WorkTypeTrain)
	_, ok := tr.GetCompletion(WorkTypeTrain, "h1")
	assert.False(t, ok)
	_, ok = tr.GetCompletion(WorkTypeInsight, "h1")
	assert.True(t, ok)
}
