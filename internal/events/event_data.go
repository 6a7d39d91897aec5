package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// ModelTrainingStartedData contains data for ModelTrainingStarted events
type ModelTrainingStartedData struct {
	RunID    string `json:"run_id"`
	EntityID string `json:"entity_id"`
	Variant  string `json:"variant"`
}

func (d *ModelTrainingStartedData) EventType() EventType { return ModelTrainingStarted }

// ModelTrainedData contains data for ModelTrained events
type ModelTrainedData struct {
	RunID      string  `json:"run_id"`
	EntityID   string  `json:"entity_id"`
	Variant    string  `json:"variant"`
	MAE        float64 `json:"mae"`
	RMSE       float64 `json:"rmse"`
	MAPE       float64 `json:"mape"`
	DurationMs int64   `json:"duration_ms"`
}

func (d *ModelTrainedData) EventType() EventType { return ModelTrained }

// ModelTrainingFailedData contains data for ModelTrainingFailed events
type ModelTrainingFailedData struct {
	RunID    string `json:"run_id"`
	EntityID string `json:"entity_id"`
	Variant  string `json:"variant"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

func (d *ModelTrainingFailedData) EventType() EventType { return ModelTrainingFailed }

// BatchTrainingCompletedData contains data for BatchTrainingCompleted events
type BatchTrainingCompletedData struct {
	Entities   int   `json:"entities"`
	Completed  int   `json:"completed"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"duration_ms"`
}

func (d *BatchTrainingCompletedData) EventType() EventType { return BatchTrainingCompleted }

// ForecastGeneratedData contains data for ForecastGenerated events
type ForecastGeneratedData struct {
	EntityID string   `json:"entity_id"`
	Horizon  int      `json:"horizon"`
	Points   int      `json:"points"`
	Variants []string `json:"variants"`
	Failures int      `json:"failures"`
}

func (d *ForecastGeneratedData) EventType() EventType { return ForecastGenerated }

// InsightGeneratedData contains data for InsightGenerated events
type InsightGeneratedData struct {
	EntityID string  `json:"entity_id"`
	Position string  `json:"position"`
	Ratio    float64 `json:"ratio"`
}

func (d *InsightGeneratedData) EventType() EventType { return InsightGenerated }

// RatesImportedData contains data for RatesImported events
type RatesImportedData struct {
	Hotels       int `json:"hotels"`
	Observations int `json:"observations"`
}

func (d *RatesImportedData) EventType() EventType { return RatesImported }

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }
