package agent

import (
	"context"

	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"concierge/internal/config"
)

func newOpenAIEmbedder(provCfg config.ProviderConfig) (embedding.Embedder, error) {
	return openaiembed.NewEmbedder(context.Background(), &openaiembed.EmbeddingConfig{
		APIKey:  provCfg.APIKey,
		Model:   provCfg.EmbeddingModel,
		BaseURL: provCfg.BaseURL,
	})
}
