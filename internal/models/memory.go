package models

import "time"

// Memory is a user-scoped long-term fact saved by the agent's memory tool.
// It is independent of any conversation.
type Memory struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentChunk is one embedded fragment of an uploaded document, searchable
// by the document-search tool.
type DocumentChunk struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Source    string    `json:"source"`
	Page      int       `json:"page"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
