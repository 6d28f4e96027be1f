// Package store is the persistence gateway: every read and write of
// conversations, messages, memories and document chunks goes through it, and
// it keeps the cache consistent with the database on the way.
package store

import (
	"database/sql"
	"encoding/json"
	"math"

	"github.com/rs/zerolog"

	"concierge/internal/cache"
	"concierge/internal/logging"
)

type Gateway struct {
	db    *sql.DB
	cache *cache.Cache
	log   zerolog.Logger
}

func New(db *sql.DB, c *cache.Cache) *Gateway {
	return &Gateway{
		db:    db,
		cache: c,
		log:   logging.With("store"),
	}
}

func encodeEmbedding(v []float64) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeEmbedding(raw sql.NullString) []float64 {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil
	}
	return v
}

// cosine similarity between equal-length vectors; 0 when either is empty or
// degenerate.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
