package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_TombstoneIsIdempotent(t *testing.T) {
	m := Message{ID: "m1", SenderID: "a", Body: Body{MediaURL: "https://cdn/x.png"}}

	assert.True(t, m.Tombstone())
	once := m.Body

	assert.False(t, m.Tombstone(), "second delete should be a no-op")
	assert.Equal(t, once, m.Body)
	assert.Equal(t, DeletedText, m.Body.Text)
	assert.True(t, m.Body.Deleted())
}

func TestMessage_MarkReadBy(t *testing.T) {
	m := Message{ID: "m1", SenderID: "a"}

	assert.False(t, m.MarkReadBy("a"), "sender never reads its own message")
	assert.True(t, m.MarkReadBy("b"))
	assert.False(t, m.MarkReadBy("b"))
	assert.Equal(t, []string{"b"}, m.ReadBy)
}

func TestMessage_ReadByAll(t *testing.T) {
	m := Message{SenderID: "a", ReadBy: []string{"b"}}

	assert.True(t, m.ReadByAll([]string{"a", "b"}))
	assert.False(t, m.ReadByAll([]string{"a", "b", "c"}))
	assert.False(t, m.ReadByAll([]string{"a"}), "no other members means nothing to read")
}

func TestChatSummary_Recipients(t *testing.T) {
	s := ChatSummary{Members: []string{"a", "b", "a", "", "c", "b"}}
	assert.Equal(t, []string{"b", "c"}, s.Recipients("a"))
}

func TestEvent_DecodeChatMessage(t *testing.T) {
	ev := MustEvent(EventNewMessage, ChatMessage{
		Message: Message{ID: "m1", SenderID: "a", Body: Body{Text: "hi"}},
		Chat:    ChatSummary{ID: "c1", Members: []string{"a", "b"}},
	})

	m, err := ev.DecodeChatMessage()
	require.NoError(t, err)
	assert.Equal(t, "c1", m.ChatID)
	assert.Equal(t, "hi", m.Body.Text)

	_, err = MustEvent(EventNewMessage, Message{ID: "m2"}).DecodeChatMessage()
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Event{Name: EventNewMessage}.DecodeChatMessage()
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestEvent_DecodeChatID(t *testing.T) {
	id, err := MustEvent(EventJoinChat, "c1").DecodeChatID()
	require.NoError(t, err)
	assert.Equal(t, "c1", id)

	_, err = MustEvent(EventJoinChat, "").DecodeChatID()
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
