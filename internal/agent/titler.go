package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const titleSystemPrompt = "Write a short title (at most six words) for the conversation below. " +
	"Reply with the title only: no quotes, no punctuation at the end."

// Titler generates conversation titles from the first exchange.
type Titler struct {
	chatModel model.BaseChatModel
}

func NewTitler(chatModel model.BaseChatModel) *Titler {
	return &Titler{chatModel: chatModel}
}

// GenerateTitle produces a title from the first user message and the
// assistant's reply.
func (t *Titler) GenerateTitle(ctx context.Context, userMsg, assistantMsg string) (string, error) {
	resp, err := t.chatModel.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: titleSystemPrompt},
		{Role: schema.User, Content: fmt.Sprintf("User: %s\n\nAssistant: %s", userMsg, assistantMsg)},
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := strings.TrimSpace(resp.Content)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return "", fmt.Errorf("model returned empty title")
	}
	const maxTitleLen = 80
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen])
	}
	return title, nil
}

// Titler reuses the runner's provider model for titling.
func (r *Runner) Titler() *Titler {
	return NewTitler(r.bound)
}

// Embedder exposes the runner's embedder so document ingestion shares it.
// Nil when no embedding model is configured.
func (r *Runner) Embedder() embedding.Embedder {
	return r.embedder
}
