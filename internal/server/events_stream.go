package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/rateintel/internal/events"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 30 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// EventsStreamHandler streams bus events to clients over SSE or websocket.
type EventsStreamHandler struct {
	eventBus       *events.Bus
	originPatterns []string
	heartbeat      time.Duration
	log            zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler. Websocket upgrades are
// accepted from the server's own host and from hosts matching originPatterns.
func NewEventsStreamHandler(eventBus *events.Bus, originPatterns []string, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus:       eventBus,
		originPatterns: originPatterns,
		heartbeat:      heartbeatInterval,
		log:            log.With().Str("component", "events_stream").Logger(),
	}
}

// subscribe registers a buffered channel for the requested event types. The returned
// function must be called on disconnect.
func (h *EventsStreamHandler) subscribe(r *http.Request) (<-chan *events.Event, func()) {
	types := events.AllEventTypes
	if filter := r.URL.Query().Get("types"); filter != "" {
		types = nil
		for _, t := range strings.Split(filter, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
	}

	eventChan := make(chan *events.Event, streamBuffer)
	unsubscribe := h.eventBus.SubscribeMany(types, func(event *events.Event) {
		// Non-blocking send (drop if channel full)
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	})
	return eventChan, unsubscribe
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan, unsubscribe := h.subscribe(r)
	defer unsubscribe()

	h.log.Info().Str("types", r.URL.Query().Get("types")).Msg("Client connected to event stream")

	fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	}))
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(eventPayload(event)))
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(heartbeatPayload()))
			flusher.Flush()
		}
	}
}

// ServeWebSocket handles GET /api/events/ws requests. Messages carry the same JSON as the
// SSE stream; anything the client sends is ignored.
func (h *EventsStreamHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	eventChan, unsubscribe := h.subscribe(r)
	defer unsubscribe()

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	h.log.Info().Msg("Client connected to event websocket")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		var payload map[string]interface{}
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event websocket")
			return
		case event := <-eventChan:
			payload = eventPayload(event)
		case <-heartbeat.C:
			payload = heartbeatPayload()
		}

		if err := h.writeWS(ctx, conn, payload); err != nil {
			h.log.Debug().Err(err).Msg("Websocket write failed")
			return
		}
	}
}

func (h *EventsStreamHandler) writeWS(ctx context.Context, conn *websocket.Conn, payload map[string]interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, []byte(h.encode(payload)))
}

func eventPayload(event *events.Event) map[string]interface{} {
	return map[string]interface{}{
		"type":      string(event.Type),
		"module":    event.Module,
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"data":      event.Data,
	}
}

func heartbeatPayload() map[string]interface{} {
	return map[string]interface{}{
		"type":      "heartbeat",
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

// encode encodes an event map to a JSON string.
func (h *EventsStreamHandler) encode(event map[string]interface{}) string {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
