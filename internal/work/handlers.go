package work

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

// Handlers provides HTTP handlers for the work processor
type Handlers struct {
	processor  *Processor
	registry   *Registry
	completion *CompletionTracker
}

// NewHandlers creates new HTTP handlers for the work processor
func NewHandlers(processor *Processor, registry *Registry, completion *CompletionTracker) *Handlers {
	return &Handlers{
		processor:  processor,
		registry:   registry,
		completion: completion,
	}
}

// RegisterRoutes registers HTTP routes for work management under /work
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/work", func(r chi.Router) {
		r.Get("/types", h.ListWorkTypes)
		r.Post("/{workType}/{subject}/execute", h.ExecuteWorkType)
		r.Post("/trigger", h.TriggerProcessor)
	})
}

// ListWorkTypes returns all registered work types
func (h *Handlers) ListWorkTypes(w http.ResponseWriter, r *http.Request) {
	types := h.registry.ByPriority()

	response := make([]map[string]any, 0, len(types))
	for _, wt := range types {
		response = append(response, map[string]any{
			"id":         wt.ID,
			"priority":   wt.Priority.String(),
			"interval":   wt.Interval.String(),
			"depends_on": wt.DependsOn,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"types":       response,
		"in_flight":   h.processor.InFlight(),
		"retry_queue": h.processor.RetryQueueLen(),
	})
}

// ExecuteWorkType runs a work type for one hotel immediately
func (h *Handlers) ExecuteWorkType(w http.ResponseWriter, r *http.Request) {
	workType := chi.URLParam(r, "workType")
	subject := chi.URLParam(r, "subject")

	if err := h.processor.ExecuteNow(r.Context(), workType, subject); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "executed",
		"work_type": workType,
		"subject":   subject,
	})
}

// TriggerProcessor wakes the processor
func (h *Handlers) TriggerProcessor(w http.ResponseWriter, r *http.Request) {
	h.processor.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
