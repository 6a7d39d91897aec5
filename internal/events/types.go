package events

// EventType identifies a kind of system event
type EventType string

// Model lifecycle events
const (
	ModelTrainingStarted   EventType = "MODEL_TRAINING_STARTED"
	ModelTrained           EventType = "MODEL_TRAINED"
	ModelTrainingFailed    EventType = "MODEL_TRAINING_FAILED"
	BatchTrainingCompleted EventType = "BATCH_TRAINING_COMPLETED"
	ForecastGenerated      EventType = "FORECAST_GENERATED"
	InsightGenerated       EventType = "INSIGHT_GENERATED"
)

// System events
const (
	RatesImported EventType = "RATES_IMPORTED"
	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type, in a stable order.
var AllEventTypes = []EventType{
	ModelTrainingStarted,
	ModelTrained,
	ModelTrainingFailed,
	BatchTrainingCompleted,
	ForecastGenerated,
	InsightGenerated,
	RatesImported,
	ErrorOccurred,
}
