package eventing

import (
	"encoding/json"
	"errors"
	"time"
)

// Envelope is the stored form of an event: routing metadata plus the JSON payload.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	DeviceID      string          `json:"device_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta overrides envelope fields. Zero fields fall back to the event itself.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	DeviceID      string
}

const currentSchemaVersion = 1

// DeviceScoped is implemented by events that concern one device.
type DeviceScoped interface {
	EventDeviceID() string
}

// Timestamped is implemented by events that carry their own occurrence time.
type Timestamped interface {
	EventTime() time.Time
}

// BuildEnvelope encodes event and fills metadata from meta, then from the event's
// DeviceScoped and Timestamped methods, then from defaults.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     EventType(event),
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		DeviceID:      meta.DeviceID,
		SchemaVersion: currentSchemaVersion,
		Payload:       payload,
	}
	if scoped, ok := event.(DeviceScoped); ok && env.DeviceID == "" {
		env.DeviceID = scoped.EventDeviceID()
	}
	if timed, ok := event.(Timestamped); ok && env.OccurredAt.IsZero() {
		env.OccurredAt = timed.EventTime()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.EventID == "" {
		env.EventID = NewEventID()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	return env, nil
}
