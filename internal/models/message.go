package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation's append-only log. Messages are never
// mutated after creation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	DocURL         string    `json:"doc_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
