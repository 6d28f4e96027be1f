package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"concierge/internal/apperrors"
	"concierge/internal/config"
	"concierge/internal/logging"
	"concierge/internal/models"
	"concierge/internal/store"
)

const defaultMaxSteps = 8

// Runner drives one model turn at a time. It owns the bound tool-calling
// model, the tool registry and the embedder shared by the memory and
// document tools.
type Runner struct {
	cfg      *config.Config
	bound    model.ToolCallingChatModel
	tools    map[string]tool.InvokableTool
	store    *store.Gateway
	embedder embedding.Embedder
	maxSteps int
	log      zerolog.Logger
}

// NewRunner builds the configured provider's chat model, the embedder and the
// tool registry, and binds the tools to the model.
func NewRunner(cfg *config.Config, gw *store.Gateway) (*Runner, error) {
	chatModel, err := buildChatModel(cfg)
	if err != nil {
		return nil, err
	}

	log := logging.With("agent")
	embedder := buildEmbedder(cfg, log)
	tools := newToolset(gw, embedder, log)

	return newRunner(cfg, gw, chatModel, embedder, tools)
}

// newRunner wires a runner around an already-built model. Tests inject fakes
// through here.
func newRunner(cfg *config.Config, gw *store.Gateway, chatModel model.ToolCallingChatModel, embedder embedding.Embedder, tools []tool.BaseTool) (*Runner, error) {
	ctx := context.Background()
	toolMap := make(map[string]tool.InvokableTool, len(tools))
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		invokable, ok := t.(tool.InvokableTool)
		if !ok {
			return nil, fmt.Errorf("tool %s is not invokable", info.Name)
		}
		toolMap[info.Name] = invokable
		infos = append(infos, info)
	}

	bound := chatModel
	if len(infos) > 0 {
		var err error
		bound, err = chatModel.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	maxSteps := cfg.Agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	return &Runner{
		cfg:      cfg,
		bound:    bound,
		tools:    toolMap,
		store:    gw,
		embedder: embedder,
		maxSteps: maxSteps,
		log:      logging.With("agent"),
	}, nil
}

func buildChatModel(cfg *config.Config) (model.ToolCallingChatModel, error) {
	provider := cfg.Agent.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	switch provider {
	case "openai":
		return openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		maxTokens := cfg.Agent.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 3000
		}
		return claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

func buildEmbedder(cfg *config.Config, log zerolog.Logger) embedding.Embedder {
	provCfg, ok := cfg.Providers["openai"]
	if !ok || provCfg.APIKey == "" || provCfg.EmbeddingModel == "" {
		log.Warn().Msg("embedder disabled: no openai embedding config, memory and document search degrade to recency")
		return nil
	}
	embedder, err := newOpenAIEmbedder(provCfg)
	if err != nil {
		log.Warn().Err(err).Msg("embedder disabled")
		return nil
	}
	return embedder
}

// Open starts one turn over the conversation history and returns its event
// stream. The turn runs in its own goroutine; cancel ctx or close the stream
// to abandon it.
func (r *Runner) Open(ctx context.Context, history []models.Message, tc TurnContext) (*EventStream, error) {
	if len(history) == 0 {
		return nil, apperrors.Validation("history must not be empty")
	}

	msgs := r.buildMessages(ctx, history, tc)
	stream := newEventStream()
	go r.run(WithTurn(ctx, tc), stream, msgs)
	return stream, nil
}

func (r *Runner) buildMessages(ctx context.Context, history []models.Message, tc TurnContext) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, &schema.Message{
		Role:    schema.System,
		Content: r.systemPrompt(ctx, tc.UserID),
	})
	for _, m := range history {
		role := schema.User
		if m.Role == models.RoleAssistant {
			role = schema.Assistant
		}
		content := m.Content
		if m.DocURL != "" {
			content = fmt.Sprintf("%s\n\n[attached document: %s]", content, m.DocURL)
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: content})
	}
	return msgs
}

func (r *Runner) systemPrompt(ctx context.Context, userID int64) string {
	var b strings.Builder
	b.WriteString("You are a personal assistant. Be concise and direct. ")
	b.WriteString("Use your tools when they help: search the web, manage the user's calendar, ")
	b.WriteString("remember facts they share, and search their uploaded documents. ")
	b.WriteString("Today is ")
	b.WriteString(time.Now().UTC().Format("Monday, January 2, 2006"))
	b.WriteString(".")

	if r.store != nil {
		memories, err := r.store.ListMemories(ctx, userID)
		if err != nil {
			r.log.Warn().Err(err).Int64("user_id", userID).Msg("loading memories for prompt failed")
		} else if len(memories) > 0 {
			if len(memories) > 10 {
				memories = memories[:10]
			}
			b.WriteString("\n\nKnown facts about the user:")
			for _, m := range memories {
				b.WriteString("\n- ")
				b.WriteString(m.Content)
			}
		}
	}
	return b.String()
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (r *Runner) run(ctx context.Context, stream *EventStream, msgs []*schema.Message) {
	var full strings.Builder

	for step := 0; step < r.maxSteps; step++ {
		if ctx.Err() != nil {
			stream.fail(ctx.Err())
			return
		}

		if !stream.send(&Event{Type: EventModelStart}) {
			return
		}

		sr, err := r.bound.Stream(ctx, msgs)
		if err != nil {
			stream.fail(apperrors.Upstream("model stream failed", err))
			return
		}

		pending, stepText, err := r.consumeStream(ctx, stream, sr, &full)
		sr.Close()
		if err != nil {
			if errors.Is(err, errConsumerGone) {
				return
			}
			stream.fail(err)
			return
		}

		if len(pending) == 0 {
			if !stream.send(&Event{Type: EventTurnEnd, Text: full.String()}) {
				return
			}
			stream.finish()
			return
		}

		msgs = append(msgs, assistantToolCallMessage(stepText, pending))
		for _, call := range pending {
			if !stream.send(&Event{Type: EventToolStart, Tool: call.name}) {
				return
			}
			result := r.invokeTool(ctx, call)
			msgs = append(msgs, &schema.Message{
				Role:       schema.Tool,
				ToolCallID: call.id,
				Content:    result,
			})
			if !stream.send(&Event{Type: EventToolEnd, Tool: call.name}) {
				return
			}
		}
	}

	stream.fail(apperrors.Upstream(fmt.Sprintf("turn exceeded %d tool rounds", r.maxSteps), nil))
}

// errConsumerGone marks that the stream consumer closed the stream; the turn
// ends silently.
var errConsumerGone = errors.New("event stream consumer gone")

// consumeStream drains one model response, forwarding text deltas and
// accumulating tool calls. Model chunks carry content deltas, so each chunk's
// text is emitted as-is.
func (r *Runner) consumeStream(ctx context.Context, stream *EventStream, sr *schema.StreamReader[*schema.Message], full *strings.Builder) ([]*pendingCall, string, error) {
	var (
		pending  []*pendingCall
		stepText strings.Builder
	)

	for {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", apperrors.Upstream("model stream read failed", err)
		}

		if chunk.Content != "" {
			full.WriteString(chunk.Content)
			stepText.WriteString(chunk.Content)
			if !stream.send(&Event{Type: EventToken, Token: chunk.Content}) {
				return nil, "", errConsumerGone
			}
		}

		pending = accumulateToolCalls(pending, chunk.ToolCalls)
	}
	return pending, stepText.String(), nil
}

// accumulateToolCalls folds streamed tool-call fragments into complete calls.
// Providers identify fragments by index when they stream arguments piecemeal;
// a fresh ID also starts a new call.
func accumulateToolCalls(pending []*pendingCall, calls []schema.ToolCall) []*pendingCall {
	for _, tc := range calls {
		var target *pendingCall
		switch {
		case tc.Index != nil:
			for len(pending) <= *tc.Index {
				pending = append(pending, &pendingCall{})
			}
			target = pending[*tc.Index]
		case tc.ID != "" && (len(pending) == 0 || pending[len(pending)-1].id != tc.ID):
			target = &pendingCall{}
			pending = append(pending, target)
		case len(pending) > 0:
			target = pending[len(pending)-1]
		default:
			target = &pendingCall{}
			pending = append(pending, target)
		}

		if target.id == "" {
			target.id = tc.ID
		}
		if target.name == "" {
			target.name = tc.Function.Name
		}
		target.args.WriteString(tc.Function.Arguments)
	}
	return pending
}

func assistantToolCallMessage(text string, pending []*pendingCall) *schema.Message {
	toolCalls := make([]schema.ToolCall, 0, len(pending))
	for _, call := range pending {
		toolCalls = append(toolCalls, schema.ToolCall{
			ID: call.id,
			Function: schema.FunctionCall{
				Name:      call.name,
				Arguments: call.args.String(),
			},
		})
	}
	return &schema.Message{
		Role:      schema.Assistant,
		Content:   text,
		ToolCalls: toolCalls,
	}
}

// invokeTool runs one tool call. Tool failures become results the model can
// see and recover from rather than turn-fatal errors.
func (r *Runner) invokeTool(ctx context.Context, call *pendingCall) string {
	invokable, ok := r.tools[call.name]
	if !ok {
		r.log.Warn().Str("tool", call.name).Msg("model requested unknown tool")
		return fmt.Sprintf("Error: unknown tool %q", call.name)
	}
	args := call.args.String()
	if args == "" {
		args = "{}"
	}
	result, err := invokable.InvokableRun(ctx, args)
	if err != nil {
		r.log.Warn().Err(err).Str("tool", call.name).Msg("tool invocation failed")
		return "Error: " + err.Error()
	}
	return result
}

// embed returns the embedding for text, or nil when no embedder is
// configured.
func (r *Runner) embed(ctx context.Context, text string) ([]float64, error) {
	return embedText(ctx, r.embedder, text)
}

func embedText(ctx context.Context, embedder embedding.Embedder, text string) ([]float64, error) {
	if embedder == nil {
		return nil, nil
	}
	vectors, err := embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}
