package events

import (
	"encoding/json"
	"time"

	"classifieds/internal/common/types"
)

// EventEnvelope wraps every event published on the broker with standard metadata.
type EventEnvelope struct {
	EventID       EventID
	EventType     string
	OccurredAt    time.Time
	CorrelationID types.CorrelationID
	Payload       json.RawMessage
}

// NewEventEnvelope creates a new event envelope with generated ID and timestamp.
func NewEventEnvelope(eventType string, correlationID types.CorrelationID, payload any, now time.Time) (EventEnvelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, err
	}

	return EventEnvelope{
		EventID:       NewEventID(),
		EventType:     eventType,
		OccurredAt:    now.UTC(),
		CorrelationID: correlationID,
		Payload:       payloadBytes,
	}, nil
}

// UnmarshalPayload decodes the payload into the target struct.
func (e EventEnvelope) UnmarshalPayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}

type eventEnvelopeJSON struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler for EventEnvelope.
func (e EventEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventEnvelopeJSON{
		EventID:       e.EventID.String(),
		EventType:     e.EventType,
		OccurredAt:    e.OccurredAt,
		CorrelationID: e.CorrelationID.String(),
		Payload:       e.Payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler for EventEnvelope.
// The event id must be a valid UUID.
func (e *EventEnvelope) UnmarshalJSON(data []byte) error {
	var j eventEnvelopeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	eventID, err := ParseEventID(j.EventID)
	if err != nil {
		return err
	}

	e.EventID = eventID
	e.EventType = j.EventType
	e.OccurredAt = j.OccurredAt
	e.CorrelationID = types.CorrelationID(j.CorrelationID)
	e.Payload = j.Payload
	return nil
}
