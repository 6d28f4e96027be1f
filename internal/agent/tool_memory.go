package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"concierge/internal/models"
)

type upsertMemoryParams struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

func (ts *toolset) upsertMemoryTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "upsert_memory",
		Desc: "Save a lasting fact about the user. Reusing a key replaces the previous fact stored under it.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"key": {
				Desc:     "Short stable identifier for the fact, e.g. 'home_city'.",
				Type:     schema.String,
				Required: true,
			},
			"content": {
				Desc:     "The fact to remember, phrased as a full sentence.",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ts.runUpsertMemory)
}

func (ts *toolset) runUpsertMemory(ctx context.Context, params *upsertMemoryParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Content) == "" {
		return "", errors.New("content is required")
	}
	tc, ok := TurnFromContext(ctx)
	if !ok {
		return "", errors.New("no active turn")
	}

	embeddingVec, err := embedText(ctx, ts.embedder, params.Content)
	if err != nil {
		ts.log.Warn().Err(err).Msg("memory embedding failed, saving without vector")
	}

	mem := &models.Memory{
		UserID:    tc.UserID,
		Key:       strings.TrimSpace(params.Key),
		Content:   strings.TrimSpace(params.Content),
		Embedding: embeddingVec,
	}
	if err := ts.store.SaveMemory(ctx, mem); err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return "Saved.", nil
}

type searchMemoryParams struct {
	Query string `json:"query"`
}

func (ts *toolset) searchMemoryTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "search_personal_memory",
		Desc: "Search the facts previously saved about the user.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "What to look for, in natural language.",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ts.runSearchMemory)
}

func (ts *toolset) runSearchMemory(ctx context.Context, params *searchMemoryParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Query) == "" {
		return "", errors.New("query is required")
	}
	tc, ok := TurnFromContext(ctx)
	if !ok {
		return "", errors.New("no active turn")
	}

	var memories []models.Memory
	queryVec, err := embedText(ctx, ts.embedder, params.Query)
	if err != nil || len(queryVec) == 0 {
		if err != nil {
			ts.log.Warn().Err(err).Msg("query embedding failed, falling back to recency")
		}
		memories, err = ts.store.ListMemories(ctx, tc.UserID)
		if err != nil {
			return "", fmt.Errorf("list memories: %w", err)
		}
		if len(memories) > 5 {
			memories = memories[:5]
		}
	} else {
		memories, err = ts.store.SearchMemories(ctx, tc.UserID, queryVec, 5)
		if err != nil {
			return "", fmt.Errorf("search memories: %w", err)
		}
	}

	if len(memories) == 0 {
		return "No saved facts match.", nil
	}
	var b strings.Builder
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
