package events

import "time"

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event.
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// BaseEvent is the canonical implementation.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// NewMessageDelivered marks a completed assistant reply in a session.
func NewMessageDelivered(sessionID, messageID string) Event {
	return BaseEvent{
		Type: "assistant.message.delivered",
		Data: map[string]interface{}{
			"session_id": sessionID,
			"message_id": messageID,
		},
		OccurredAt: time.Now(),
	}
}

// NewMessageFailed marks a reply that ended in a failed state.
func NewMessageFailed(sessionID, messageID string) Event {
	return BaseEvent{
		Type: "assistant.message.failed",
		Data: map[string]interface{}{
			"session_id": sessionID,
			"message_id": messageID,
		},
		OccurredAt: time.Now(),
	}
}
