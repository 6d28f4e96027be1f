// Package chat coordinates one generation turn: it consumes the agent's
// typed events and emits ordered chunk, status and error payloads to the
// client's push channel while keeping the conversation log and caches
// consistent.
package chat

import (
	"context"

	"concierge/internal/agent"
	"concierge/internal/models"
)

// ChunkPayload is one streamed piece of assistant output. The final payload
// of every turn has Done set and an empty Chunk.
type ChunkPayload struct {
	Chunk          string `json:"chunk"`
	Done           bool   `json:"done"`
	ConversationID string `json:"conversationId"`
}

// StatusPayload is a transient progress phrase shown while the assistant
// works. A nil Status clears whatever phrase the client is showing; the
// first token after a status does this implicitly through the coordinator.
type StatusPayload struct {
	Status *string `json:"status"`
}

// StatusOf wraps a phrase for a StatusPayload.
func StatusOf(s string) *string {
	return &s
}

// ErrorPayload reports a failed turn.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Channel is the client-facing push surface for one connection. Sends never
// block the turn; implementations drop on slow or gone consumers.
type Channel interface {
	SendChunk(p ChunkPayload)
	SendStatus(p StatusPayload)
	SendError(p ErrorPayload)
}

// ChannelResolver maps a user and channel reference to the live connection's
// channel. Returning nil means no connection; the turn still runs and its
// emissions are dropped.
type ChannelResolver interface {
	Resolve(userID int64, channelRef string) Channel
}

// dropChannel swallows every emission. Used when the client connection is
// gone so persistence still happens.
type dropChannel struct{}

func (dropChannel) SendChunk(ChunkPayload)   {}
func (dropChannel) SendStatus(StatusPayload) {}
func (dropChannel) SendError(ErrorPayload)   {}

// EventStream is the consumed side of one agent turn.
type EventStream interface {
	Recv() (*agent.Event, error)
	Close()
}

// EventSource opens a turn over the conversation history.
type EventSource interface {
	Open(ctx context.Context, history []models.Message, tc agent.TurnContext) (EventStream, error)
}

// RunnerSource adapts the agent runner to EventSource.
type RunnerSource struct {
	Runner *agent.Runner
}

func (s RunnerSource) Open(ctx context.Context, history []models.Message, tc agent.TurnContext) (EventStream, error) {
	return s.Runner.Open(ctx, history, tc)
}
