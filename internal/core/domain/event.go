package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

// EventEnvelope is the notification payload queued after an audited change.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	ChangeID      int64           `json:"change_id"`
	EntityID      string          `json:"entity_id"`
	ObjectID      string          `json:"object_id"`
	ActorID       *int64          `json:"actor_id"`
	RequestID     string          `json:"request_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
