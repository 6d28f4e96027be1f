package agent

import "context"

// TurnContext carries the per-turn identity tools need: who is asking and
// any third-party token resolved for them. The Google token may be empty;
// tools that need it report the missing connection as their result.
type TurnContext struct {
	UserID         int64
	ConversationID string
	GoogleToken    string
}

type turnContextKey struct{}

func WithTurn(ctx context.Context, tc TurnContext) context.Context {
	return context.WithValue(ctx, turnContextKey{}, tc)
}

func TurnFromContext(ctx context.Context) (TurnContext, bool) {
	val := ctx.Value(turnContextKey{})
	if val == nil {
		return TurnContext{}, false
	}
	tc, ok := val.(TurnContext)
	return tc, ok
}
