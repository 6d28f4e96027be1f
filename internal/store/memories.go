package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"

	"concierge/internal/apperrors"
	"concierge/internal/cache"
	"concierge/internal/models"
)

// SaveMemory upserts a long-term fact for the user. When the key matches an
// existing memory the content and embedding replace the old ones.
func (g *Gateway) SaveMemory(ctx context.Context, mem *models.Memory) error {
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	emb, err := encodeEmbedding(mem.Embedding)
	if err != nil {
		return apperrors.Persistence("encode memory embedding", err)
	}

	if mem.Key != "" {
		res, err := g.db.ExecContext(ctx,
			"UPDATE memories SET content = ?, embedding = ?, created_at = ? WHERE user_id = ? AND key = ?",
			mem.Content, emb, mem.CreatedAt, mem.UserID, mem.Key,
		)
		if err != nil {
			return apperrors.Persistence("update memory", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			g.cache.DeletePrefix(ctx, cache.MemoriesPrefix(mem.UserID))
			return nil
		}
	}

	_, err = g.db.ExecContext(ctx,
		"INSERT INTO memories (id, user_id, key, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		mem.ID, mem.UserID, mem.Key, mem.Content, emb, mem.CreatedAt,
	)
	if err != nil {
		return apperrors.Persistence("insert memory", err)
	}
	g.cache.DeletePrefix(ctx, cache.MemoriesPrefix(mem.UserID))
	return nil
}

// ListMemories returns the user's memories newest first. Cached per user.
func (g *Gateway) ListMemories(ctx context.Context, userID int64) ([]models.Memory, error) {
	key := cache.MemoriesKey(userID)
	var cached []models.Memory
	if err := g.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	rows, err := g.db.QueryContext(ctx,
		"SELECT id, user_id, key, content, embedding, created_at FROM memories WHERE user_id = ? ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, apperrors.Persistence("list memories", err)
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	g.cache.Set(ctx, key, memories)
	return memories, nil
}

// DeleteMemory removes one memory, scoped to its owner.
func (g *Gateway) DeleteMemory(ctx context.Context, userID int64, id string) error {
	res, err := g.db.ExecContext(ctx,
		"DELETE FROM memories WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if err != nil {
		return apperrors.Persistence("delete memory", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("memory not found")
	}
	g.cache.DeletePrefix(ctx, cache.MemoriesPrefix(userID))
	return nil
}

// SearchMemories ranks the user's memories by cosine similarity against the
// query embedding and returns the top k. Memories without an embedding are
// skipped.
func (g *Gateway) SearchMemories(ctx context.Context, userID int64, query []float64, k int) ([]models.Memory, error) {
	if k <= 0 {
		k = 5
	}
	memories, err := g.ListMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rankMemories(memories, query, k), nil
}

func rankMemories(memories []models.Memory, query []float64, k int) []models.Memory {
	type scored struct {
		mem   models.Memory
		score float64
	}
	ranked := make([]scored, 0, len(memories))
	for _, m := range memories {
		s := cosine(m.Embedding, query)
		if s <= 0 {
			continue
		}
		ranked = append(ranked, scored{mem: m, score: s})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]models.Memory, len(ranked))
	for i, r := range ranked {
		out[i] = r.mem
	}
	return out
}

func scanMemories(rows *sql.Rows) ([]models.Memory, error) {
	memories := make([]models.Memory, 0)
	for rows.Next() {
		var (
			m        models.Memory
			memKey   sql.NullString
			rawEmbed sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.UserID, &memKey, &m.Content, &rawEmbed, &m.CreatedAt); err != nil {
			return nil, apperrors.Persistence("scan memory", err)
		}
		m.Key = memKey.String
		m.Embedding = decodeEmbedding(rawEmbed)
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("scan memories", err)
	}
	return memories, nil
}
