package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"restroom-cloud/internal/engine/application/events"
	engine "restroom-cloud/internal/engine/domain"
)

// Stream event names.
const (
	streamEventNotice   = "notice"
	streamEventLiveness = "liveness"
)

type streamMessage struct {
	event   string
	payload []byte
}

type noticePayload struct {
	DeviceID         string               `json:"deviceId"`
	Kind             engine.NoticeKind    `json:"kind"`
	ActiveConditions []string             `json:"activeConditions,omitempty"`
	Summary          engine.StatusSummary `json:"summary"`
	ReminderNumber   int                  `json:"reminderNumber,omitempty"`
	OccurredAt       time.Time            `json:"occurredAt"`
}

type livenessPayload struct {
	DeviceID   string          `json:"deviceId"`
	Status     engine.Liveness `json:"status"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// SSEBroker fans engine events out to connected dashboard clients. Slow clients
// miss events rather than block the dispatcher.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan streamMessage]struct{}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan streamMessage]struct{})}
}

// HandleNotice implements the engine's notice sink.
func (b *SSEBroker) HandleNotice(_ context.Context, notice events.DeviceNotice) error {
	if b == nil {
		return nil
	}
	payload, err := json.Marshal(noticePayload{
		DeviceID:         notice.DeviceID,
		Kind:             notice.Kind,
		ActiveConditions: notice.ActiveConditions,
		Summary:          notice.Summary,
		ReminderNumber:   notice.ReminderNumber,
		OccurredAt:       notice.OccurredAt,
	})
	if err != nil {
		return err
	}
	b.broadcast(streamMessage{event: streamEventNotice, payload: payload})
	return nil
}

// HandleLiveness implements the engine's liveness sink.
func (b *SSEBroker) HandleLiveness(_ context.Context, evt events.LivenessChanged) error {
	if b == nil {
		return nil
	}
	payload, err := json.Marshal(livenessPayload{DeviceID: evt.DeviceID, Status: evt.Status, OccurredAt: evt.OccurredAt})
	if err != nil {
		return err
	}
	b.broadcast(streamMessage{event: streamEventLiveness, payload: payload})
	return nil
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan streamMessage {
	if b == nil {
		return nil
	}
	ch := make(chan streamMessage, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a client channel. Closing happens under the
// broker lock so a concurrent broadcast never sends on it.
func (b *SSEBroker) Unsubscribe(ch chan streamMessage) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast never blocks: sends are non-blocking, so holding the lock is brief.
func (b *SSEBroker) broadcast(msg streamMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// StreamHandler serves the SSE event stream.
type StreamHandler struct {
	broker    *SSEBroker
	keepAlive time.Duration
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker, keepAlive: 25 * time.Second}
}

// ServeHTTP handles GET /api/v1/events/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	done := r.Context().Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: " + msg.event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg.payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
