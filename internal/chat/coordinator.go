package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"concierge/internal/agent"
	"concierge/internal/apperrors"
	"concierge/internal/control"
	"concierge/internal/credentials"
	"concierge/internal/logging"
	"concierge/internal/models"
	"concierge/internal/store"
)

const turnTimeout = 5 * time.Minute

// Store is the persistence surface the coordinator needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SaveMessage(ctx context.Context, userID int64, msg *models.Message) error
	History(ctx context.Context, conversationID string) ([]models.Message, error)
	MessageCount(ctx context.Context, conversationID string) (int, error)
	SetTitle(ctx context.Context, userID int64, id, title string) error
}

var _ Store = (*store.Gateway)(nil)

// CredentialSource resolves per-user third-party tokens.
type CredentialSource interface {
	Resolve(ctx context.Context, userID int64, provider string) (string, error)
}

// TitleSource generates a conversation title from the first exchange.
type TitleSource interface {
	GenerateTitle(ctx context.Context, userMsg, assistantMsg string) (string, error)
}

// SubmitRequest is one user message submission.
type SubmitRequest struct {
	UserID         int64
	ConversationID string
	Content        string
	DocURL         string
	ChannelRef     string
}

// Coordinator runs generation turns. One turn per conversation at a time;
// concurrent submissions are rejected.
type Coordinator struct {
	store    Store
	source   EventSource
	control  *control.Registry
	creds    CredentialSource
	titler   TitleSource
	channels ChannelResolver
	log      zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	// onTurnDone, when set, is called after a turn fully finishes,
	// persistence included. Tests hook it to wait deterministically; it is
	// nil in production.
	onTurnDone func(conversationID string)
}

func NewCoordinator(st Store, source EventSource, ctl *control.Registry, creds CredentialSource, titler TitleSource, channels ChannelResolver) *Coordinator {
	return &Coordinator{
		store:    st,
		source:   source,
		control:  ctl,
		creds:    creds,
		titler:   titler,
		channels: channels,
		log:      logging.With("chat"),
		inFlight: make(map[string]struct{}),
	}
}

// SubmitMessage validates the submission, reserves the conversation and
// starts the turn in the background. It returns before any generation
// happens; progress flows through the client's channel.
func (c *Coordinator) SubmitMessage(ctx context.Context, req SubmitRequest) error {
	if strings.TrimSpace(req.Content) == "" {
		return apperrors.Validation("message content must not be empty")
	}

	conv, err := c.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if conv.UserID != req.UserID {
		return apperrors.Forbidden("conversation belongs to another user")
	}

	if !c.reserve(req.ConversationID) {
		return apperrors.Conflict("a response is already being generated for this conversation")
	}

	go c.runTurn(req, conv)
	return nil
}

// RequestStop asks the active turn for the conversation to halt after the
// event it is currently handling. Idempotent; a stop with no active turn is
// cleared when the next turn starts.
func (c *Coordinator) RequestStop(conversationID string) {
	c.control.SignalStop(conversationID)
}

func (c *Coordinator) reserve(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[conversationID]; busy {
		return false
	}
	c.inFlight[conversationID] = struct{}{}
	return true
}

func (c *Coordinator) release(conversationID string) {
	c.mu.Lock()
	delete(c.inFlight, conversationID)
	c.mu.Unlock()
	if c.onTurnDone != nil {
		c.onTurnDone(conversationID)
	}
}

func (c *Coordinator) runTurn(req SubmitRequest, conv *models.Conversation) {
	defer c.release(req.ConversationID)

	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	ch := c.resolveChannel(req.UserID, req.ChannelRef)
	log := c.log.With().Str("conversation_id", req.ConversationID).Int64("user_id", req.UserID).Logger()

	// A stop left over from a previous turn must not kill this one.
	c.control.ClearSignal(req.ConversationID)

	userMsg := &models.Message{
		ConversationID: req.ConversationID,
		Role:           models.RoleUser,
		Content:        req.Content,
		DocURL:         req.DocURL,
	}
	if err := c.store.SaveMessage(ctx, req.UserID, userMsg); err != nil {
		log.Error().Err(err).Msg("saving user message failed")
		ch.SendError(ErrorPayload{Error: "failed to save your message"})
		ch.SendChunk(ChunkPayload{Done: true, ConversationID: req.ConversationID})
		return
	}

	// A missing or broken Google connection only degrades the calendar
	// tools; the turn proceeds.
	googleToken, err := c.creds.Resolve(ctx, req.UserID, credentials.ProviderGoogle)
	if err != nil {
		log.Warn().Err(err).Msg("google token resolution failed, continuing without")
		googleToken = ""
	}

	history, err := c.store.History(ctx, req.ConversationID)
	if err != nil {
		log.Error().Err(err).Msg("loading history failed")
		ch.SendError(ErrorPayload{Error: "failed to load conversation history"})
		ch.SendChunk(ChunkPayload{Done: true, ConversationID: req.ConversationID})
		return
	}

	stream, err := c.source.Open(ctx, history, agent.TurnContext{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		GoogleToken:    googleToken,
	})
	if err != nil {
		log.Error().Err(err).Msg("opening agent turn failed")
		ch.SendError(ErrorPayload{Error: "the assistant is unavailable right now"})
		ch.SendChunk(ChunkPayload{Done: true, ConversationID: req.ConversationID})
		return
	}

	full, turnErr, stopped := c.consume(ctx, cancel, stream, req, ch)

	if turnErr != nil && !stopped {
		log.Error().Err(turnErr).Msg("turn failed")
		ch.SendError(ErrorPayload{Error: "generation failed"})
	}

	// The done chunk is the last payload of every turn, stop and error
	// included.
	ch.SendChunk(ChunkPayload{Done: true, ConversationID: req.ConversationID})

	// Whatever was produced before a stop or failure is kept.
	if full != "" {
		assistantMsg := &models.Message{
			ConversationID: req.ConversationID,
			Role:           models.RoleAssistant,
			Content:        full,
		}
		persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer persistCancel()
		if err := c.store.SaveMessage(persistCtx, req.UserID, assistantMsg); err != nil {
			log.Error().Err(err).Msg("saving assistant message failed")
		} else if turnErr == nil && !stopped {
			c.maybeGenerateTitle(req, conv, req.Content, full)
		}
	}

	c.control.ClearSignal(req.ConversationID)
}

// consume drains the event stream, forwarding payloads in order. It checks
// for a stop request between events; stopping is cooperative, so the event in
// flight still lands before the turn winds down.
func (c *Coordinator) consume(ctx context.Context, cancel context.CancelFunc, stream EventStream, req SubmitRequest, ch Channel) (full string, turnErr error, stopped bool) {
	defer stream.Close()
	var acc strings.Builder
	statusShown := false

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return acc.String(), nil, false
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return acc.String(), nil, true
			}
			return acc.String(), err, false
		}

		// The event already received when the stop lands is discarded with
		// the rest of the turn.
		if c.control.ShouldStop(req.ConversationID) {
			cancel()
			return acc.String(), nil, true
		}

		switch ev.Type {
		case agent.EventModelStart:
			ch.SendStatus(StatusPayload{Status: StatusOf(StatusThinking)})
			statusShown = true
		case agent.EventToolStart:
			ch.SendStatus(StatusPayload{Status: StatusOf(StatusForTool(ev.Tool))})
			statusShown = true
		case agent.EventToken:
			// Token output supersedes any progress phrase on screen.
			if statusShown {
				ch.SendStatus(StatusPayload{})
				statusShown = false
			}
			acc.WriteString(ev.Token)
			ch.SendChunk(ChunkPayload{Chunk: ev.Token, ConversationID: req.ConversationID})
		case agent.EventToolEnd:
			// No payload; the next model round reports its own status.
		case agent.EventTurnEnd:
			// The accumulated tokens are authoritative; the event's text
			// is the runner's own tally of the same stream.
		}
	}
}

// maybeGenerateTitle titles the conversation after its first full exchange.
// Runs detached; a failure leaves the conversation untitled.
func (c *Coordinator) maybeGenerateTitle(req SubmitRequest, conv *models.Conversation, userMsg, assistantMsg string) {
	if c.titler == nil || conv.Title != "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := c.store.MessageCount(ctx, req.ConversationID)
		if err != nil || n != 2 {
			return
		}
		title, err := c.titler.GenerateTitle(ctx, userMsg, assistantMsg)
		if err != nil {
			c.log.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("title generation failed")
			return
		}
		if err := c.store.SetTitle(ctx, req.UserID, req.ConversationID, title); err != nil {
			c.log.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("saving title failed")
		}
	}()
}

func (c *Coordinator) resolveChannel(userID int64, channelRef string) Channel {
	if c.channels == nil {
		return dropChannel{}
	}
	ch := c.channels.Resolve(userID, channelRef)
	if ch == nil {
		c.log.Debug().Int64("user_id", userID).Str("channel_ref", channelRef).Msg("no live channel, emissions dropped")
		return dropChannel{}
	}
	return ch
}
