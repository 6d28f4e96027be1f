package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"concierge/internal/apperrors"
	"concierge/internal/cache"
	"concierge/internal/models"
)

// CreateConversation starts an empty untitled conversation for the user.
func (g *Gateway) CreateConversation(ctx context.Context, userID int64) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := g.db.ExecContext(ctx,
		"INSERT INTO conversations (id, user_id, title, created_at) VALUES (?, ?, NULL, ?)",
		conv.ID, conv.UserID, conv.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.Persistence("create conversation", err)
	}
	g.cache.DeletePrefix(ctx, cache.ConversationsPrefix(userID))
	return conv, nil
}

// GetConversation fetches one conversation, NotFound when absent.
func (g *Gateway) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var (
		conv  models.Conversation
		title sql.NullString
	)
	err := g.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, created_at FROM conversations WHERE id = ?",
		id,
	).Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperrors.Persistence("get conversation", err)
	}
	conv.Title = title.String
	return &conv, nil
}

// ListConversations returns the user's conversations newest first, each with
// its first message as a preview. Cached per user.
func (g *Gateway) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	key := cache.ConversationsKey(userID)
	var cached []models.ConversationSummary
	if err := g.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.title, c.created_at,
			COALESCE((
				SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id
				ORDER BY m.created_at ASC LIMIT 1
			), '')
		FROM conversations c
		WHERE c.user_id = ?
		ORDER BY c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, apperrors.Persistence("list conversations", err)
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var (
			s     models.ConversationSummary
			title sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.UserID, &title, &s.CreatedAt, &s.FirstMessage); err != nil {
			return nil, apperrors.Persistence("scan conversation", err)
		}
		s.Title = title.String
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("list conversations", err)
	}

	g.cache.Set(ctx, key, summaries)
	return summaries, nil
}

// DeleteConversation removes the conversation and, via cascade, its messages.
// Scoped to the owning user.
func (g *Gateway) DeleteConversation(ctx context.Context, userID int64, id string) error {
	res, err := g.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if err != nil {
		return apperrors.Persistence("delete conversation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("conversation not found")
	}
	g.cache.DeletePrefix(ctx, cache.ConversationsPrefix(userID))
	g.cache.DeletePrefix(ctx, cache.MessagesPrefix(id))
	return nil
}

// SetTitle records the generated title for a conversation.
func (g *Gateway) SetTitle(ctx context.Context, userID int64, id, title string) error {
	if _, err := g.db.ExecContext(ctx,
		"UPDATE conversations SET title = ? WHERE id = ?",
		title, id,
	); err != nil {
		return apperrors.Persistence(fmt.Sprintf("set title for %s", id), err)
	}
	g.cache.DeletePrefix(ctx, cache.ConversationsPrefix(userID))
	return nil
}
