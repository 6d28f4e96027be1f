package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"concierge/internal/apperrors"
	"concierge/internal/cache"
	"concierge/internal/models"
)

// MessagePage is one page of a conversation's history in chronological order.
// NextCursor is empty when there are no older messages.
type MessagePage struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// SaveMessage appends one message to the conversation log and invalidates the
// history and conversation-list caches it affects.
func (g *Gateway) SaveMessage(ctx context.Context, userID int64, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var docURL interface{}
	if msg.DocURL != "" {
		docURL = msg.DocURL
	}
	_, err := g.db.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, role, content, doc_url, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, docURL, msg.CreatedAt,
	)
	if err != nil {
		return apperrors.Persistence("save message", err)
	}
	g.cache.DeletePrefix(ctx, cache.MessagesPrefix(msg.ConversationID))
	// The conversation list embeds the first message as a preview.
	g.cache.DeletePrefix(ctx, cache.ConversationsPrefix(userID))
	return nil
}

// ListMessages pages through a conversation's history. The page is selected
// newest first and reversed, so the newest page comes back in chronological
// order and older pages are reached by following NextCursor, which is the
// timestamp of the oldest message in the returned page.
func (g *Gateway) ListMessages(ctx context.Context, conversationID string, limit int, cursor string) (*MessagePage, error) {
	if limit <= 0 {
		limit = 20
	}

	key := cache.MessagesKey(conversationID, limit, cursor)
	var cached MessagePage
	if err := g.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = g.db.QueryContext(ctx, `
			SELECT id, conversation_id, role, content, doc_url, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ?`,
			conversationID, limit,
		)
	} else {
		before, perr := time.Parse(time.RFC3339Nano, cursor)
		if perr != nil {
			return nil, apperrors.Validation("invalid cursor")
		}
		rows, err = g.db.QueryContext(ctx, `
			SELECT id, conversation_id, role, content, doc_url, created_at
			FROM messages
			WHERE conversation_id = ? AND created_at < ?
			ORDER BY created_at DESC
			LIMIT ?`,
			conversationID, before, limit,
		)
	}
	if err != nil {
		return nil, apperrors.Persistence("list messages", err)
	}
	defer rows.Close()

	newestFirst := make([]models.Message, 0, limit)
	for rows.Next() {
		var (
			m      models.Message
			role   string
			docURL sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &docURL, &m.CreatedAt); err != nil {
			return nil, apperrors.Persistence("scan message", err)
		}
		m.Role = models.Role(role)
		m.DocURL = docURL.String
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("list messages", err)
	}

	page := &MessagePage{Messages: make([]models.Message, len(newestFirst))}
	for i, m := range newestFirst {
		page.Messages[len(newestFirst)-1-i] = m
	}
	if len(newestFirst) == limit {
		oldest := newestFirst[len(newestFirst)-1]
		page.NextCursor = oldest.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	g.cache.Set(ctx, key, page)
	return page, nil
}

// History loads the full conversation log in chronological order, for feeding
// the model.
func (g *Gateway) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, doc_url, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, apperrors.Persistence("load history", err)
	}
	defer rows.Close()

	msgs := make([]models.Message, 0)
	for rows.Next() {
		var (
			m      models.Message
			role   string
			docURL sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &docURL, &m.CreatedAt); err != nil {
			return nil, apperrors.Persistence("scan message", err)
		}
		m.Role = models.Role(role)
		m.DocURL = docURL.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("load history", err)
	}
	return msgs, nil
}

// MessageCount reports how many messages the conversation holds. The chat
// flow uses it to decide when to generate a title.
func (g *Gateway) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := g.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?",
		conversationID,
	).Scan(&n)
	if err != nil {
		return 0, apperrors.Persistence("count messages", err)
	}
	return n, nil
}
