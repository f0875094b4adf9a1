package entity

import (
	"time"
)

// DocumentSourceMode selects which backend a conversation is querying.
type DocumentSourceMode string

const (
	ModeUploaded DocumentSourceMode = "uploaded"
	ModeDatabase DocumentSourceMode = "database"
	ModeExternal DocumentSourceMode = "external"
)

func (m DocumentSourceMode) Valid() bool {
	switch m {
	case ModeUploaded, ModeDatabase, ModeExternal:
		return true
	}
	return false
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// DeliveryState tracks a message through its lifecycle:
// pending -> delivering -> delivered, or pending -> failed.
type DeliveryState string

const (
	DeliveryPending    DeliveryState = "pending"
	DeliveryDelivering DeliveryState = "delivering"
	DeliveryDelivered  DeliveryState = "delivered"
	DeliveryFailed     DeliveryState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// SourceRef points at a document fragment that grounded an answer.
type SourceRef struct {
	Id             string  `json:"id,omitempty"`
	Title          string  `json:"title"`
	Content        string  `json:"content,omitempty"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

// Message is one transcript entry. Immutable once delivered; Content only
// grows while the state is delivering.
type Message struct {
	Id            string             `json:"id"`
	Role          MessageRole        `json:"role"`
	Content       string             `json:"content"`
	CreatedAt     time.Time          `json:"created_at"`
	SourceMode    DocumentSourceMode `json:"source_mode"`
	DeliveryState DeliveryState      `json:"delivery_state"`
	Sources       []SourceRef        `json:"sources,omitempty"`
}
