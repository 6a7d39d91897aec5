package work

import (
	"context"
	"strings"
	"time"
)

// WorkTimeout is the maximum duration a work item can run before being cancelled.
const WorkTimeout = 15 * time.Minute

// MaxRetries is the maximum number of times a failed work item will be retried.
const MaxRetries = 3

// Priority defines the execution priority of work types.
type Priority int

const (
	// PriorityLow is for non-urgent work (insight refreshes).
	PriorityLow Priority = iota
	// PriorityMedium is for regular background work (model training).
	PriorityMedium
	// PriorityHigh is for work other items depend on.
	PriorityHigh
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// WorkType defines a type of work that can be executed.
// Work types are registered once and can generate one work item per subject.
type WorkType struct {
	// ID is the unique identifier (e.g. "forecast:train").
	ID string

	// DependsOn lists work type IDs that must have completed for the same subject first.
	DependsOn []string

	// Interval is the minimum time between runs per subject (0 = on-demand only).
	Interval time.Duration

	Priority Priority

	// FindSubjects returns the hotel ids that need this work, []string{""} for global
	// work, or nil when there is nothing to do.
	FindSubjects func(ctx context.Context) []string

	// Execute performs the work for one subject.
	Execute func(ctx context.Context, subject string) error
}

// WorkItem is one scheduled execution of a work type for a subject.
type WorkItem struct {
	ID        string // "forecast:train:hotel-1"
	TypeID    string
	Subject   string
	Retries   int
	CreatedAt time.Time
}

// NewWorkItem creates a new work item from a work type and subject.
func NewWorkItem(workType *WorkType, subject string) *WorkItem {
	return &WorkItem{
		ID:        makeKey(workType.ID, subject),
		TypeID:    workType.ID,
		Subject:   subject,
		CreatedAt: time.Now(),
	}
}

// ParseWorkID splits a full work ID into the type ID and subject. Type IDs always have
// the form "category:type", so everything after the second colon is the subject, which
// keeps hotel ids containing colons intact.
func ParseWorkID(id string) (typeID string, subject string) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) < 3 {
		return id, ""
	}
	return parts[0] + ":" + parts[1], parts[2]
}

func makeKey(typeID, subject string) string {
	if subject == "" {
		return typeID
	}
	return typeID + ":" + subject
}
