package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

type searchDocumentsParams struct {
	Query string `json:"query"`
}

func (ts *toolset) searchDocumentsTool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "search_documents",
		Desc: "Search the documents the user has uploaded.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "What to look for, in natural language.",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ts.runSearchDocuments)
}

func (ts *toolset) runSearchDocuments(ctx context.Context, params *searchDocumentsParams) (string, error) {
	if params == nil || strings.TrimSpace(params.Query) == "" {
		return "", errors.New("query is required")
	}
	tc, ok := TurnFromContext(ctx)
	if !ok {
		return "", errors.New("no active turn")
	}

	queryVec, err := embedText(ctx, ts.embedder, params.Query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	if len(queryVec) == 0 {
		return "Document search is unavailable: no embedder configured.", nil
	}

	chunks, err := ts.store.SearchChunks(ctx, tc.UserID, queryVec, 5)
	if err != nil {
		return "", fmt.Errorf("search documents: %w", err)
	}
	if len(chunks) == 0 {
		return "No uploaded documents match.", nil
	}

	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%s p.%d] %s\n\n", c.Source, c.Page, strings.TrimSpace(c.Content))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
