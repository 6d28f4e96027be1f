// Package docs turns uploaded files into embedded chunks the document-search
// tool can query.
package docs

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"

	"concierge/internal/apperrors"
	"concierge/internal/logging"
	"concierge/internal/models"
	"concierge/internal/store"
)

const (
	chunkSize    = 1200
	chunkOverlap = 200
	maxChunks    = 500
)

type Ingestor struct {
	loader   *file.FileLoader
	embedder embedding.Embedder
	store    *store.Gateway
	log      zerolog.Logger
}

// NewIngestor builds the loader with the extension parser so PDFs and office
// formats degrade to plain text extraction.
func NewIngestor(gw *store.Gateway, embedder embedding.Embedder) (*Ingestor, error) {
	parserExt, err := parser.NewExtParser(context.Background(), &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("build parser: %w", err)
	}
	loader, err := file.NewFileLoader(context.Background(), &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("build loader: %w", err)
	}
	return &Ingestor{
		loader:   loader,
		embedder: embedder,
		store:    gw,
		log:      logging.With("docs"),
	}, nil
}

// Ingest loads the file at path, chunks its text, embeds the chunks and
// stores them under the user. Returns the number of chunks stored.
func (i *Ingestor) Ingest(ctx context.Context, userID int64, path, sourceName string) (int, error) {
	loaded, err := i.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return 0, apperrors.Validation(fmt.Sprintf("could not read document: %v", err))
	}

	var b strings.Builder
	for _, doc := range loaded {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return 0, apperrors.Validation("document has no readable text")
	}

	pieces := chunkText(text, chunkSize, chunkOverlap)
	if len(pieces) > maxChunks {
		pieces = pieces[:maxChunks]
	}

	var vectors [][]float64
	if i.embedder != nil {
		vectors, err = i.embedder.EmbedStrings(ctx, pieces)
		if err != nil {
			i.log.Warn().Err(err).Str("source", sourceName).Msg("embedding failed, storing chunks without vectors")
			vectors = nil
		}
	}

	chunks := make([]models.DocumentChunk, len(pieces))
	for idx, piece := range pieces {
		chunks[idx] = models.DocumentChunk{
			UserID:  userID,
			Source:  sourceName,
			Page:    idx + 1,
			Content: piece,
		}
		if idx < len(vectors) {
			chunks[idx].Embedding = vectors[idx]
		}
	}

	if err := i.store.SaveChunks(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// chunkText splits text into rune windows of size with the given overlap so
// sentences cut at a boundary still appear whole in one chunk.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap >= size {
		overlap = size / 4
	}
	runes := []rune(text)
	var out []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
