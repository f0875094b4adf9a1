package entity

import (
	"fmt"
	"strings"
	"time"
)

// ChatSession is one resumable transcript, scoped by (mode, contextKey).
// ContinuationToken is only used in external mode and is session-scoped,
// not message-scoped.
type ChatSession struct {
	Id                string             `json:"id"`
	Mode              DocumentSourceMode `json:"mode"`
	ContextKey        string             `json:"context_key,omitempty"`
	ContinuationToken string             `json:"continuation_token,omitempty"`
	Messages          []Message          `json:"messages"`
	CreatedAt         time.Time          `json:"created_at"`
	LastUpdated       time.Time          `json:"last_updated"`
}

// Fresh reports whether the session may be silently replaced when the
// context changes. A session holding only the welcome message has no user
// content worth preserving; once it reaches the threshold it is committed.
func (s *ChatSession) Fresh(threshold int) bool {
	return len(s.Messages) < threshold
}

// Summary derives a short label for the recent-sessions list from the first
// user message.
func (s *ChatSession) Summary() string {
	if len(s.Messages) == 0 {
		return "Leeg gesprek"
	}
	for _, msg := range s.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			if len(msg.Content) > 50 {
				return msg.Content[:50] + "..."
			}
			return msg.Content
		}
	}
	return fmt.Sprintf("Gesprek (%d berichten)", len(s.Messages))
}

// Export renders the transcript as plain text for download.
func (s *ChatSession) Export() string {
	var b strings.Builder
	b.WriteString("# Chat Export - " + s.CreatedAt.Format("02-01-2006 15:04") + "\n")
	b.WriteString("Bron: " + string(s.Mode) + "\n")
	if s.ContextKey != "" {
		b.WriteString("Context: " + s.ContextKey + "\n")
	}
	b.WriteString("---\n\n")
	for _, msg := range s.Messages {
		sender := "AI Assistent"
		if msg.Role == RoleUser {
			sender = "Gebruiker"
		}
		b.WriteString("[" + msg.CreatedAt.Format("15:04:05") + "] " + sender + ":\n")
		b.WriteString(msg.Content + "\n\n")
	}
	return b.String()
}
