package clientstate

import (
	"testing"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newState(t *testing.T) *State {
	t.Helper()
	s := New("alice", 3*time.Second)
	s.now = func() time.Time { return t0 }
	s.LoadChats([]model.ChatListing{
		{Chat: model.Chat{ID: "c1", Members: []string{"alice", "bob"}, UnreadCounts: map[string]int64{"alice": 2}}},
		{Chat: model.Chat{ID: "c2", Members: []string{"alice", "carol"}}},
		{Chat: model.Chat{ID: "c3", Members: []string{"alice", "dave"}}},
	})
	return s
}

func pushed(id, chatID, sender string, at time.Time) model.ChatMessage {
	return model.ChatMessage{
		Message: model.Message{ID: id, ChatID: chatID, SenderID: sender, Body: model.Body{Text: "msg " + id}, CreatedAt: at},
		Chat:    model.ChatSummary{ID: chatID, Members: []string{"alice", sender}},
	}
}

func chatOrder(s *State) []string {
	var ids []string
	for _, c := range s.ChatList() {
		ids = append(ids, c.Chat.ID)
	}
	return ids
}

func transcriptIDs(s *State) []string {
	var ids []string
	for _, e := range s.Transcript() {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestState_OpenChatFetchesThenMarksRead(t *testing.T) {
	s := newState(t)

	effects := s.OpenChat("c1")
	assert.Equal(t, []Effect{
		{Kind: EffectJoinChat, ChatID: "c1"},
		{Kind: EffectFetchMessages, ChatID: "c1"},
	}, effects)
	assert.Zero(t, s.Badge("c1"))

	effects = s.ApplySnapshot("c1", []model.Message{
		{ID: "1", ChatID: "c1", SenderID: "bob", CreatedAt: t0},
	})
	assert.Equal(t, []Effect{{Kind: EffectMarkRead, ChatID: "c1"}}, effects)
	assert.Equal(t, []string{"1"}, transcriptIDs(s))
}

func TestState_SnapshotWithNothingUnreadSkipsMarkRead(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")

	effects := s.ApplySnapshot("c2", []model.Message{
		{ID: "1", ChatID: "c2", SenderID: "carol", ReadBy: []string{"alice"}},
		{ID: "2", ChatID: "c2", SenderID: "alice"},
	})
	assert.Empty(t, effects)
}

func TestState_StaleSnapshotIgnored(t *testing.T) {
	s := newState(t)
	s.OpenChat("c1")
	s.OpenChat("c2")

	assert.Nil(t, s.ApplySnapshot("c1", []model.Message{{ID: "1", ChatID: "c1", SenderID: "bob"}}))
	assert.Empty(t, s.Transcript())
}

func TestState_SelfEchoNeverAppendsOrCounts(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	s.ApplySnapshot("c2", nil)

	tempID, effects := s.BeginSend(model.Body{Text: "hello"})
	require.NotEmpty(t, tempID)
	require.Len(t, effects, 1)
	assert.Equal(t, EffectPostMessage, effects[0].Kind)

	// The server's fanout wrongly echoes M back, before and after the
	// send response.
	echo := pushed("m1", "c2", "alice", t0)
	outcome, effects := s.ReceiveMessage(echo)
	assert.Equal(t, SelfEcho, outcome)
	assert.Empty(t, effects)

	s.ConfirmSend(tempID, echo.Message)
	outcome, _ = s.ReceiveMessage(echo)
	assert.Equal(t, SelfEcho, outcome)

	require.Len(t, s.Transcript(), 1)
	e := s.Transcript()[0]
	assert.Equal(t, "m1", e.ID)
	assert.Equal(t, StatusConfirmed, e.Status)
	assert.Zero(t, s.Badge("c2"))

	outcome, _ = s.ReceiveMessage(pushed("m9", "c3", "alice", t0))
	assert.Equal(t, SelfEcho, outcome)
	assert.Zero(t, s.Badge("c3"), "own message on another chat does not count")
}

func TestState_OpenVsClosedChat(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	s.ApplySnapshot("c2", nil)

	outcome, effects := s.ReceiveMessage(pushed("m1", "c2", "carol", t0))
	assert.Equal(t, Appended, outcome)
	assert.Equal(t, []Effect{{Kind: EffectMarkRead, ChatID: "c2"}}, effects)
	assert.Zero(t, s.Badge("c2"))

	outcome, effects = s.ReceiveMessage(pushed("m2", "c3", "dave", t0))
	assert.Equal(t, Counted, outcome)
	assert.Empty(t, effects)
	assert.Equal(t, int64(1), s.Badge("c3"))
	assert.Equal(t, []string{"m1"}, transcriptIDs(s), "closed chat never touches the transcript")
}

func TestState_DuplicateGuard(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	s.ApplySnapshot("c2", []model.Message{{ID: "m0", ChatID: "c2", SenderID: "carol", ReadBy: []string{"alice"}}})

	outcome, _ := s.ReceiveMessage(pushed("m0", "c2", "carol", t0))
	assert.Equal(t, Duplicate, outcome)

	s.ReceiveMessage(pushed("m1", "c2", "carol", t0))
	outcome, _ = s.ReceiveMessage(pushed("m1", "c2", "carol", t0))
	assert.Equal(t, Duplicate, outcome)
	assert.Equal(t, []string{"m0", "m1"}, transcriptIDs(s))

	s.ReceiveMessage(pushed("x1", "c3", "dave", t0))
	s.ReceiveMessage(pushed("x1", "c3", "dave", t0))
	assert.Equal(t, int64(1), s.Badge("c3"), "re-delivery does not double count")
}

func TestState_EveryAcceptedMessageMovesChatToFront(t *testing.T) {
	s := newState(t)
	assert.Equal(t, []string{"c1", "c2", "c3"}, chatOrder(s))

	s.ReceiveMessage(pushed("m1", "c3", "dave", t0))
	assert.Equal(t, []string{"c3", "c1", "c2"}, chatOrder(s))
	assert.Equal(t, "m1", s.ChatList()[0].Latest.ID)

	s.OpenChat("c2")
	s.BeginSend(model.Body{Text: "mine"})
	assert.Equal(t, []string{"c2", "c3", "c1"}, chatOrder(s))
	assert.Equal(t, "mine", s.ChatList()[0].Latest.Body.Text)

	s.ReceiveMessage(pushed("m2", "c9", "erin", t0))
	assert.Equal(t, "c9", chatOrder(s)[0], "unknown chat is added at the front")
	assert.Equal(t, int64(1), s.Badge("c9"))
}

func TestState_PushRacingSnapshotIsKept(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")

	s.ReceiveMessage(pushed("m2", "c2", "carol", t0.Add(time.Second)))
	s.ApplySnapshot("c2", []model.Message{
		{ID: "m1", ChatID: "c2", SenderID: "carol", CreatedAt: t0},
		{ID: "m2", ChatID: "c2", SenderID: "carol", CreatedAt: t0.Add(time.Second)},
	})
	assert.Equal(t, []string{"m1", "m2"}, transcriptIDs(s))

	s.OpenChat("c3")
	s.ReceiveMessage(pushed("m4", "c3", "dave", t0))
	s.ApplySnapshot("c3", []model.Message{{ID: "m3", ChatID: "c3", SenderID: "dave"}})
	assert.Equal(t, []string{"m3", "m4"}, transcriptIDs(s))
}

func TestState_ConfirmAfterSnapshotAlreadyHoldsMessage(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	tempID, _ := s.BeginSend(model.Body{Text: "hi"})

	stored := model.Message{ID: "m1", ChatID: "c2", SenderID: "alice", Body: model.Body{Text: "hi"}, CreatedAt: t0}
	s.ApplySnapshot("c2", []model.Message{stored})
	s.ConfirmSend(tempID, stored)

	require.Len(t, s.Transcript(), 1)
	assert.Equal(t, "m1", s.Transcript()[0].ID)
}

func TestState_FailedSendStaysVisible(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	tempID, _ := s.BeginSend(model.Body{Text: "hi"})
	s.FailSend(tempID)

	require.Len(t, s.Transcript(), 1)
	assert.Equal(t, StatusFailed, s.Transcript()[0].Status)
}

// Reads and new messages may arrive in either order; the transcript ends
// up the same.
func TestState_ReadMarkConvergesInEitherOrder(t *testing.T) {
	mine := model.Message{ID: "m1", ChatID: "c2", SenderID: "alice", CreatedAt: t0}
	read := model.MessagesReadPayload{ChatID: "c2", ReadByUserID: "carol", ReadAt: t0.Add(time.Second)}

	readFirst := newState(t)
	readFirst.OpenChat("c2")
	readFirst.MessagesRead(read)
	readFirst.ApplySnapshot("c2", []model.Message{mine})

	snapFirst := newState(t)
	snapFirst.OpenChat("c2")
	snapFirst.ApplySnapshot("c2", []model.Message{mine})
	snapFirst.MessagesRead(read)

	assert.Equal(t, readFirst.Transcript(), snapFirst.Transcript())
	assert.Equal(t, []string{"carol"}, snapFirst.Transcript()[0].ReadBy)
}

func TestState_ReadMarkDoesNotCoverLaterMessages(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	s.ApplySnapshot("c2", nil)
	s.MessagesRead(model.MessagesReadPayload{ChatID: "c2", ReadByUserID: "carol", ReadAt: t0})

	tempID, _ := s.BeginSend(model.Body{Text: "later"})
	s.ConfirmSend(tempID, model.Message{ID: "m5", ChatID: "c2", SenderID: "alice", CreatedAt: t0.Add(time.Minute)})

	assert.Empty(t, s.Transcript()[0].ReadBy)
}

func TestState_ReadByMeElsewhereClearsBadge(t *testing.T) {
	s := newState(t)
	assert.Equal(t, int64(2), s.Badge("c1"))

	s.MessagesRead(model.MessagesReadPayload{ChatID: "c1", ReadByUserID: "alice", ReadAt: t0})
	assert.Zero(t, s.Badge("c1"))
}

func TestState_ReadWithoutTimestampOnlyClearsCounter(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	s.ApplySnapshot("c2", []model.Message{{ID: "m1", ChatID: "c2", SenderID: "alice", CreatedAt: t0}})

	s.MessagesRead(model.MessagesReadPayload{ChatID: "c2", ReadByUserID: "carol"})
	assert.Empty(t, s.Transcript()[0].ReadBy)

	s.MessagesRead(model.MessagesReadPayload{ChatID: "c1", ReadByUserID: "alice"})
	assert.Zero(t, s.Badge("c1"))
}

func TestState_MessageDeletedIsIdempotent(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	s.ApplySnapshot("c2", []model.Message{{ID: "m1", ChatID: "c2", SenderID: "carol", Body: model.Body{MediaURL: "https://cdn/img.png"}}})
	s.ReceiveMessage(pushed("m2", "c2", "carol", t0))

	s.MessageDeleted("m2")
	s.MessageDeleted("m2")

	tr := s.Transcript()
	assert.Equal(t, "https://cdn/img.png", tr[0].Body.MediaURL)
	assert.Equal(t, model.Body{Text: model.DeletedText}, tr[1].Body)
	assert.Equal(t, model.DeletedText, s.ChatList()[0].Latest.Body.Text)
}

func TestState_TypingIndicator(t *testing.T) {
	s := newState(t)
	now := t0
	s.now = func() time.Time { return now }
	s.OpenChat("c2")

	s.Typing("c3")
	assert.False(t, s.IsTyping(), "typing in another chat is not shown")

	s.Typing("c2")
	assert.True(t, s.IsTyping())
	s.StopTyping("c2")
	assert.False(t, s.IsTyping())

	s.Typing("c2")
	now = now.Add(3 * time.Second)
	assert.False(t, s.IsTyping(), "indicator expires without stop-typing")
}

func TestState_Presence(t *testing.T) {
	s := newState(t)
	s.SetOnlineUsers([]string{"bob", "carol"})
	s.UserOffline("bob")
	s.UserOnline("dave")

	assert.False(t, s.IsOnline("bob"))
	assert.True(t, s.IsOnline("carol"))
	assert.True(t, s.IsOnline("dave"))
}

func TestState_AddedToGroupOnce(t *testing.T) {
	s := newState(t)
	g := model.ChatSummary{ID: "g1", IsGroup: true, Members: []string{"alice", "bob", "carol"}}
	s.AddedToGroup(g)
	s.AddedToGroup(g)

	assert.Equal(t, []string{"g1", "c1", "c2", "c3"}, chatOrder(s))
}

type hiddenSet map[string]bool

func (h hiddenSet) IsHidden(id string) bool { return h[id] }

// A hidden message is only filtered from rendering; it still counts and
// still takes read marks.
func TestState_HiddenIsRenderingOnly(t *testing.T) {
	s := newState(t)
	s.OpenChat("c2")
	s.ApplySnapshot("c2", []model.Message{
		{ID: "m1", ChatID: "c2", SenderID: "carol"},
		{ID: "m2", ChatID: "c2", SenderID: "alice", CreatedAt: t0},
	})
	hidden := hiddenSet{"m2": true}

	s.MessagesRead(model.MessagesReadPayload{ChatID: "c2", ReadByUserID: "carol", ReadAt: t0})

	visible := s.Visible(hidden)
	require.Len(t, visible, 1)
	assert.Equal(t, "m1", visible[0].ID)
	require.Len(t, s.Transcript(), 2)
	assert.Equal(t, []string{"carol"}, s.Transcript()[1].ReadBy)

	delete(hidden, "m2")
	assert.Len(t, s.Visible(hidden), 2)
}
