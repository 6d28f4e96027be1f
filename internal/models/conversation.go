package models

import "time"

// Conversation groups an ordered exchange of messages for one user. The title
// stays empty until it is generated after the first exchange.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary is a conversation plus the first message preview shown
// in history sidebars.
type ConversationSummary struct {
	Conversation
	FirstMessage string `json:"first_message"`
}
