package dto

import (
	"time"

	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/pkg/prober"
)

type SendChatRequest struct {
	Question string `json:"question" validate:"required"`
	Mode     string `json:"mode" validate:"required"`
	// Context key parts: client and/or document selection
	ClientId   string `json:"client_id,omitempty"`
	DocumentId string `json:"document_id,omitempty"`
}

type SendChatResponse struct {
	SessionId string          `json:"session_id"`
	Sent      *entity.Message `json:"sent"`
	Reply     *entity.Message `json:"reply"`
}

type NewConversationRequest struct {
	Mode       string `json:"mode" validate:"required"`
	ClientId   string `json:"client_id,omitempty"`
	DocumentId string `json:"document_id,omitempty"`
}

type SessionResponse struct {
	Id           string    `json:"id"`
	Mode         string    `json:"mode"`
	ContextKey   string    `json:"context_key,omitempty"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

type ChatHistoryResponse struct {
	Id       string           `json:"id"`
	Mode     string           `json:"mode"`
	Messages []entity.Message `json:"messages"`
}

type ServiceStatusResponse struct {
	Statuses map[string]prober.ServiceStatus `json:"statuses"`
}

type SuggestionsResponse struct {
	Mode        string   `json:"mode"`
	Suggestions []string `json:"suggestions"`
}

type PreferencesResponse struct {
	SoundEnabled   bool `json:"sound_enabled"`
	HasSeenWelcome bool `json:"has_seen_welcome"`
}

type UpdatePreferencesRequest struct {
	SoundEnabled   *bool `json:"sound_enabled,omitempty"`
	HasSeenWelcome *bool `json:"has_seen_welcome,omitempty"`
}

// FeedbackEvent is published on every terminal message transition so the
// client can play its acoustic/visual cue.
type FeedbackEvent struct {
	SessionId string    `json:"session_id"`
	MessageId string    `json:"message_id"`
	Outcome   string    `json:"outcome"` // "delivered" | "failed"
	At        time.Time `json:"at"`
}
