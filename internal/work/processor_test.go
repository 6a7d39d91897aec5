package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subjects(s ...string) func(context.Context) []string {
	return func(context.Context) []string { return s }
}

func startProcessor(t *testing.T, registry *Registry, completion *CompletionTracker) *Processor {
	t.Helper()
	p := NewProcessorWithTimeout(registry, completion, time.Second, zerolog.Nop())
	go p.Run()
	t.Cleanup(p.Stop)
	return p
}

func TestProcessor_Trigger(t *testing.T) {
	registry := NewRegistry()
	executed := atomic.Bool{}
	registry.Register(&WorkType{
		ID:           "test:work",
		FindSubjects: subjects(""),
		Interval:     time.Hour,
		Execute: func(ctx context.Context, subject string) error {
			executed.Store(true)
			return nil
		},
	})

	p := startProcessor(t, registry, NewCompletionTracker())
	p.Trigger()

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}

func TestProcessor_RunsEverySubjectOncePerInterval(t *testing.T) {
	registry := NewRegistry()
	completion := NewCompletionTracker()

	var mu sync.Mutex
	runs := make(map[string]int)
	registry.Register(&WorkType{
		ID:           WorkTypeTrain,
		Interval:     time.Hour,
		FindSubjects: subjects("a", "b", "c"),
		Execute: func(ctx context.Context, subject string) error {
			mu.Lock()
			runs[subject]++
			mu.Unlock()
			return nil
		},
	})

	p := startProcessor(t, registry, completion)
	p.Trigger()

	assert.Eventually(t, func() bool {
		_, ok := completion.GetCompletion(WorkTypeTrain, "c")
		return ok
	}, time.Second, 10*time.Millisecond)

	p.Trigger()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, runs)
}

func TestProcessor_DependenciesAreScopedToSubject(t *testing.T) {
	registry := NewRegistry()
	completion := NewCompletionTracker()

	var mu sync.Mutex
	var order []string
	record := func(id string) func(context.Context, string) error {
		return func(ctx context.Context, subject string) error {
			mu.Lock()
			order = append(order, id+":"+subject)
			mu.Unlock()
			return nil
		}
	}

	registry.Register(&WorkType{
		ID:           "insights:refresh",
		DependsOn:    []string{"forecast:train"},
		Priority:     PriorityHigh,
		Interval:     time.Hour,
		FindSubjects: subjects("h1"),
		Execute:      record("insights:refresh"),
	})
	registry.Register(&WorkType{
		ID:           "forecast:train",
		Priority:     PriorityLow,
		Interval:     time.Hour,
		FindSubjects: subjects("h1"),
		Execute:      record("forecast:train"),
	})

	p := startProcessor(t, registry, completion)
	p.Trigger()

	assert.Eventually(t, func() bool {
		_, ok := completion.GetCompletion("insights:refresh", "h1")
		return ok
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"forecast:train:h1", "insights:refresh:h1"}, order)
}

func TestProcessor_RetriesFailedWork(t *testing.T) {
	registry := NewRegistry()
	completion := NewCompletionTracker()

	var attempts atomic.Int32
	registry.Register(&WorkType{
		ID:           "test:flaky",
		Interval:     time.Hour,
		FindSubjects: subjects("x"),
		Execute: func(ctx context.Context, subject string) error {
			if attempts.Add(1) < 2 {
				return errors.New("transient")
			}
			return nil
		},
	})

	p := startProcessor(t, registry, completion)
	p.Trigger()

	assert.Eventually(t, func() bool {
		_, ok := completion.GetCompletion("test:flaky", "x")
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestProcessor_GivesUpAfterMaxRetries(t *testing.T) {
	registry := NewRegistry()
	completion := NewCompletionTracker()

	var attempts atomic.Int32
	registry.Register(&WorkType{
		ID:           "test:broken",
		Interval:     time.Hour,
		FindSubjects: subjects("x"),
		Execute: func(ctx context.Context, subject string) error {
			attempts.Add(1)
			return errors.New("permanent")
		},
	})

	p := startProcessor(t, registry, completion)
	p.Trigger()

	assert.Eventually(t, func() bool {
		_, ok := completion.GetCompletion("test:broken", "x")
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(MaxRetries), attempts.Load())
	assert.Equal(t, 0, p.RetryQueueLen())
}

func TestProcessor_ExecuteNow(t *testing.T) {
	registry := NewRegistry()
	completion := NewCompletionTracker()

	var got string
	registry.Register(&WorkType{
		ID:           "test:manual",
		FindSubjects: subjects(),
		Execute: func(ctx context.Context, subject string) error {
			got = subject
			return nil
		},
	})

	p := NewProcessor(registry, completion, zerolog.Nop())
	require.NoError(t, p.ExecuteNow(context.Background(), "test:manual", "hotel-9"))
	assert.Equal(t, "hotel-9", got)

	_, ok := completion.GetCompletion("test:manual", "hotel-9")
	assert.True(t, ok)

	assert.Error(t, p.ExecuteNow(context.Background(), "test:missing", ""))
}
