package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/chat"
)

func TestResolveScopedToUser(t *testing.T) {
	h := New()
	c := h.Register(1, nil)

	require.NotNil(t, h.Resolve(1, c.Ref()))
	assert.Nil(t, h.Resolve(2, c.Ref()), "another user must not reach this channel")
	assert.Nil(t, h.Resolve(1, "unknown-ref"))
}

func TestRemoveMakesChannelUnresolvable(t *testing.T) {
	h := New()
	c := h.Register(1, nil)

	h.Remove(c)
	assert.Nil(t, h.Resolve(1, c.Ref()))

	// Removing twice is harmless.
	h.Remove(c)
}

func TestDistinctRefsPerConnection(t *testing.T) {
	h := New()
	a := h.Register(1, nil)
	b := h.Register(1, nil)
	assert.NotEqual(t, a.Ref(), b.Ref())

	// Both resolve independently.
	require.NotNil(t, h.Resolve(1, a.Ref()))
	require.NotNil(t, h.Resolve(1, b.Ref()))
}

func TestSendNeverBlocks(t *testing.T) {
	h := New()
	c := h.Register(1, nil)

	// No pump is draining; overflow the buffer and keep going.
	for i := 0; i < sendBuffer*2; i++ {
		c.SendChunk(chat.ChunkPayload{Chunk: "x", ConversationID: "conv"})
	}
	c.SendStatus(chat.StatusPayload{Status: chat.StatusOf("Thinking")})
	c.SendError(chat.ErrorPayload{Error: "boom"})
}

func TestSendAfterRemoveIsDropped(t *testing.T) {
	h := New()
	c := h.Register(1, nil)

	// A turn resolves the channel once and keeps it for the whole stream;
	// the connection going away mid-turn must turn emissions into no-ops,
	// not panics.
	resolved := h.Resolve(1, c.Ref())
	require.NotNil(t, resolved)
	h.Remove(c)

	resolved.SendChunk(chat.ChunkPayload{Chunk: "late", ConversationID: "conv"})
	resolved.SendStatus(chat.StatusPayload{Status: chat.StatusOf("Thinking")})
	resolved.SendError(chat.ErrorPayload{Error: "late"})
	resolved.SendChunk(chat.ChunkPayload{Done: true, ConversationID: "conv"})

	// Nothing past the ready frame was queued.
	assert.Len(t, c.send, 1)
}

func TestRegisterAnnouncesRef(t *testing.T) {
	h := New()
	c := h.Register(1, nil)

	env := <-c.send
	assert.Equal(t, "ready", env.Type)
	data, ok := env.Data.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, c.Ref(), data["channelId"])
}
