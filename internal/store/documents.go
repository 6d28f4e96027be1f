package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"

	"concierge/internal/apperrors"
	"concierge/internal/models"
)

// SaveChunks stores the embedded fragments of one uploaded document in a
// single transaction.
func (g *Gateway) SaveChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Persistence("begin chunk insert", err)
	}
	defer tx.Rollback()

	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		emb, err := encodeEmbedding(c.Embedding)
		if err != nil {
			return apperrors.Persistence("encode chunk embedding", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO document_chunks (id, user_id, source, page, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			c.ID, c.UserID, c.Source, c.Page, c.Content, emb, c.CreatedAt,
		)
		if err != nil {
			return apperrors.Persistence("insert chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Persistence("commit chunk insert", err)
	}
	return nil
}

// SearchChunks ranks the user's document chunks by cosine similarity against
// the query embedding and returns the top k.
func (g *Gateway) SearchChunks(ctx context.Context, userID int64, query []float64, k int) ([]models.DocumentChunk, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := g.db.QueryContext(ctx,
		"SELECT id, user_id, source, page, content, embedding, created_at FROM document_chunks WHERE user_id = ?",
		userID,
	)
	if err != nil {
		return nil, apperrors.Persistence("search chunks", err)
	}
	defer rows.Close()

	type scored struct {
		chunk models.DocumentChunk
		score float64
	}
	ranked := make([]scored, 0)
	for rows.Next() {
		var (
			c        models.DocumentChunk
			rawEmbed sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Source, &c.Page, &c.Content, &rawEmbed, &c.CreatedAt); err != nil {
			return nil, apperrors.Persistence("scan chunk", err)
		}
		c.Embedding = decodeEmbedding(rawEmbed)
		s := cosine(c.Embedding, query)
		if s <= 0 {
			continue
		}
		ranked = append(ranked, scored{chunk: c, score: s})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("search chunks", err)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]models.DocumentChunk, len(ranked))
	for i, r := range ranked {
		out[i] = r.chunk
	}
	return out, nil
}
