package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	cancel := bus.Subscribe(ModelTrained, func(e *Event) { got = append(got, e) })

	bus.Emit(ModelTrained, "forecasting", map[string]interface{}{"entity_id": "h1"})
	bus.Emit(ModelTrainingFailed, "forecasting", nil)

	require.Len(t, got, 1)
	assert.Equal(t, ModelTrained, got[0].Type)
	assert.Equal(t, "forecasting", got[0].Module)
	assert.Equal(t, "h1", got[0].Data["entity_id"])
	assert.False(t, got[0].Timestamp.IsZero())

	cancel()
	bus.Emit(ModelTrained, "forecasting", nil)
	assert.Len(t, got, 1)
	assert.Equal(t, 0, bus.SubscriberCount(ModelTrained))
}

func TestBus_UnsubscribeKeepsOthers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var a, b int
	cancelA := bus.Subscribe(ModelTrained, func(*Event) { a++ })
	bus.Subscribe(ModelTrained, func(*Event) { b++ })

	cancelA()
	bus.Emit(ModelTrained, "x", nil)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	called := false
	bus.Subscribe(ErrorOccurred, func(*Event) { panic("boom") })
	bus.Subscribe(ErrorOccurred, func(*Event) { called = true })

	assert.NotPanics(t, func() { bus.Emit(ErrorOccurred, "x", nil) })
	assert.True(t, called)
}

func TestBus_SubscribeMany(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var mu sync.Mutex
	seen := map[EventType]int{}
	cancel := bus.SubscribeMany(AllEventTypes, func(e *Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
	})

	for _, et := range AllEventTypes {
		bus.Emit(et, "x", nil)
	}
	assert.Len(t, seen, len(AllEventTypes))

	cancel()
	for _, et := range AllEventTypes {
		assert.Equal(t, 0, bus.SubscriberCount(et))
	}
}

func TestManager_EmitTyped(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	m := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ModelTrained, func(e *Event) { got = e })

	m.EmitTyped("forecasting", &ModelTrainedData{RunID: "r1", EntityID: "h1", Variant: "ensemble", MAE: 2.5})

	require.NotNil(t, got)
	assert.Equal(t, "r1", got.Data["run_id"])
	assert.Equal(t, "ensemble", got.Data["variant"])
	assert.Equal(t, 2.5, got.Data["mae"])
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	m := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	m.EmitError("scheduler", errors.New("disk full"), map[string]interface{}{"job": "retrain"})
	require.NotNil(t, got)
	assert.Equal(t, "disk full", got.Data["error"])
	assert.Equal(t, "retrain", got.Data["context"].(map[string]interface{})["job"])
}

func TestEventData_Types(t *testing.T) {
	cases := map[EventType]EventData{
		ModelTrainingStarted:   &ModelTrainingStartedData{},
		ModelTrained:           &ModelTrainedData{},
		ModelTrainingFailed:    &ModelTrainingFailedData{},
		BatchTrainingCompleted: &BatchTrainingCompletedData{},
		ForecastGenerated:      &ForecastGeneratedData{},
		InsightGenerated:       &InsightGeneratedData{},
		RatesImported:          &RatesImportedData{},
		ErrorOccurred:          &ErrorEventData{},
	}
	for want, data := range cases {
		assert.Equal(t, want, data.EventType())
	}
}
