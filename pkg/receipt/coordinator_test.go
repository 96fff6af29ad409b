package receipt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/fanout"
	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/mahaj/snappy-realtime/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("write timeout")

// flakyStore fails AddReader for a message a set number of times.
type flakyStore struct {
	*store.Memory
	mu       sync.Mutex
	failures map[string]int
}

func (f *flakyStore) AddReader(ctx context.Context, chatID, messageID, user string) error {
	f.mu.Lock()
	if f.failures[messageID] > 0 {
		f.failures[messageID]--
		f.mu.Unlock()
		return errFlaky
	}
	f.mu.Unlock()
	return f.Memory.AddReader(ctx, chatID, messageID, user)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []model.MessagesReadPayload
}

func (n *recordingNotifier) MessagesRead(_ context.Context, p model.MessagesReadPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, p)
	return nil
}

type session struct {
	id     string
	mu     sync.Mutex
	events []model.Event
}

func (s *session) ID() string { return s.id }
func (s *session) Send(ev model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

var members = model.ChatSummary{ID: "c1", Members: []string{"alice", "bob"}}

func setup(t *testing.T) (*store.Memory, context.Context) {
	t.Helper()
	s := store.NewMemory()
	_, err := s.CreateChat(context.Background(), model.Chat{ID: "c1", Members: members.Members})
	require.NoError(t, err)
	return s, context.Background()
}

func send(t *testing.T, s store.Store, c *Coordinator, id, sender string) {
	t.Helper()
	msg, err := s.CreateMessage(context.Background(), model.Message{ID: id, ChatID: "c1", SenderID: sender, Body: model.Body{Text: id}})
	require.NoError(t, err)
	require.NoError(t, c.RecordMessage(context.Background(), model.ChatMessage{Message: msg, Chat: members}))
}

func unread(t *testing.T, s store.Store, user string) int64 {
	t.Helper()
	chat, err := s.GetChat(context.Background(), "c1")
	require.NoError(t, err)
	return chat.UnreadCounts[user]
}

func TestCoordinator_UnreadCountsNonSelfMessages(t *testing.T) {
	s, _ := setup(t)
	c := NewCoordinator(s, nil, Config{}, nil)

	send(t, s, c, "1", "bob")
	send(t, s, c, "2", "bob")
	send(t, s, c, "3", "alice")

	assert.Equal(t, int64(2), unread(t, s, "alice"))
	assert.Equal(t, int64(1), unread(t, s, "bob"))
}

// The counter is bumped even for a member who has the chat open; the open
// client's own mark-read clears it.
func TestCoordinator_IncrementsWhileChatIsOpen(t *testing.T) {
	s, ctx := setup(t)
	rooms := fanout.NewRooms()
	rooms.Join("c1", &session{id: "alice-tab"})
	c := NewCoordinator(s, RoomNotifier{Rooms: rooms}, Config{}, nil)

	send(t, s, c, "1", "bob")
	assert.Equal(t, int64(1), unread(t, s, "alice"))

	_, err := c.MarkRead(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Zero(t, unread(t, s, "alice"))
}

func TestCoordinator_MarkReadResetsAndNotifies(t *testing.T) {
	s, ctx := setup(t)
	n := &recordingNotifier{}
	c := NewCoordinator(s, n, Config{}, nil)

	send(t, s, c, "1", "bob")
	send(t, s, c, "2", "alice")
	send(t, s, c, "3", "bob")
	last, err := s.GetMessage(ctx, "c1", "3")
	require.NoError(t, err)

	res, err := c.MarkRead(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, last.CreatedAt.UTC(), res.ReadAt)
	assert.Equal(t, int64(2), res.Cleared)
	assert.True(t, res.Broadcast)
	assert.Zero(t, unread(t, s, "alice"))

	msgs, err := s.GetMessages(ctx, "c1")
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotContains(t, m.ReadBy, m.SenderID, "sender never reads its own message")
		if m.SenderID == "bob" {
			assert.Equal(t, []string{"alice"}, m.ReadBy)
		}
	}

	require.Len(t, n.calls, 1)
	assert.Equal(t, model.MessagesReadPayload{ChatID: "c1", ReadByUserID: "alice", ReadAt: res.ReadAt}, n.calls[0])
}

func TestCoordinator_SecondMarkReadIsNoop(t *testing.T) {
	s, ctx := setup(t)
	n := &recordingNotifier{}
	c := NewCoordinator(s, n, Config{}, nil)
	send(t, s, c, "1", "bob")

	_, err := c.MarkRead(ctx, "c1", "alice")
	require.NoError(t, err)
	res, err := c.MarkRead(ctx, "c1", "alice")
	require.NoError(t, err)

	assert.Equal(t, Result{}, res)
	assert.Len(t, n.calls, 1)
}

func TestCoordinator_RetriesReadSetUpdates(t *testing.T) {
	s, ctx := setup(t)
	flaky := &flakyStore{Memory: s, failures: map[string]int{"1": 2}}
	c := NewCoordinator(flaky, nil, Config{Retries: 2, Backoff: time.Millisecond}, nil)
	send(t, s, c, "1", "bob")

	res, err := c.MarkRead(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, unread(t, s, "alice"))
}

func TestCoordinator_PartialFailureSelfHeals(t *testing.T) {
	s, ctx := setup(t)
	flaky := &flakyStore{Memory: s, failures: map[string]int{"2": 1}}
	n := &recordingNotifier{}
	c := NewCoordinator(flaky, n, Config{Retries: 0}, nil)
	send(t, s, c, "1", "bob")
	send(t, s, c, "2", "bob")

	// ACT: message 2 fails once
	res, err := c.MarkRead(ctx, "c1", "alice")

	// ASSERT
	require.ErrorIs(t, err, ErrPartialRead)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, int64(2), unread(t, s, "alice"), "counter untouched on failure")
	assert.Empty(t, n.calls)

	// ACT: retry by the caller
	res, err = c.MarkRead(ctx, "c1", "alice")

	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, unread(t, s, "alice"))
	m1, _ := s.GetMessage(ctx, "c1", "1")
	m2, _ := s.GetMessage(ctx, "c1", "2")
	assert.Equal(t, []string{"alice"}, m1.ReadBy)
	assert.Equal(t, []string{"alice"}, m2.ReadBy)
}

func TestCoordinator_ConcurrentIncrementsAreNotLost(t *testing.T) {
	s, ctx := setup(t)
	c := NewCoordinator(s, nil, Config{}, nil)
	msg := model.ChatMessage{Message: model.Message{ID: "x", ChatID: "c1", SenderID: "bob"}, Chat: members}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.RecordMessage(ctx, msg))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), unread(t, s, "alice"))
}

// Alice is online on two devices with the chat open. Bob sends M1, alice
// reads it from device 1, and both devices see messages-read.
func TestCoordinator_TwoDeviceReadScenario(t *testing.T) {
	s, ctx := setup(t)
	rooms := fanout.NewRooms()
	d1, d2, bobTab := &session{id: "d1"}, &session{id: "d2"}, &session{id: "b1"}
	for _, sess := range []*session{d1, d2, bobTab} {
		rooms.Join("c1", sess)
	}
	c := NewCoordinator(s, RoomNotifier{Rooms: rooms}, Config{}, nil)

	send(t, s, c, "1", "bob")
	assert.Equal(t, int64(1), unread(t, s, "alice"))

	_, err := c.MarkRead(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Zero(t, unread(t, s, "alice"))

	for _, sess := range []*session{d1, d2, bobTab} {
		require.Len(t, sess.events, 1, sess.id)
		assert.Equal(t, model.EventMessagesRead, sess.events[0].Name)
		var p model.MessagesReadPayload
		require.NoError(t, sess.events[0].Decode(&p))
		assert.Equal(t, "alice", p.ReadByUserID)
	}
}

// sendDuringList stores a message from alice right after bob's unread list
// is taken, and records it the way the API does, off the caller's goroutine.
type sendDuringList struct {
	*store.Memory
	c    *Coordinator
	once sync.Once
	done chan error
}

func (r *sendDuringList) UnreadMessages(ctx context.Context, chatID, user string) ([]model.Message, error) {
	out, err := r.Memory.UnreadMessages(ctx, chatID, user)
	r.once.Do(func() {
		msg, cerr := r.Memory.CreateMessage(ctx, model.Message{
			ID: "2", ChatID: chatID, SenderID: "alice", Body: model.Body{Text: "late"}, CreatedAt: t1,
		})
		if cerr != nil {
			r.done <- cerr
			return
		}
		go func() { r.done <- r.c.RecordMessage(ctx, model.ChatMessage{Message: msg, Chat: members}) }()
	})
	return out, err
}

var (
	t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Second)
)

func TestCoordinator_MessageDuringMarkReadStaysUnread(t *testing.T) {
	s, ctx := setup(t)
	racing := &sendDuringList{Memory: s, done: make(chan error, 1)}
	n := &recordingNotifier{}
	c := NewCoordinator(racing, n, Config{}, nil)
	racing.c = c

	first, err := s.CreateMessage(ctx, model.Message{ID: "1", ChatID: "c1", SenderID: "alice", Body: model.Body{Text: "1"}, CreatedAt: t0})
	require.NoError(t, err)
	require.NoError(t, c.RecordMessage(ctx, model.ChatMessage{Message: first, Chat: members}))

	res, err := c.MarkRead(ctx, "c1", "bob")
	require.NoError(t, err)
	require.NoError(t, <-racing.done)

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, t0, res.ReadAt, "read mark stops at the last message marked")
	late, err := s.GetMessage(ctx, "c1", "2")
	require.NoError(t, err)
	assert.Empty(t, late.ReadBy)
	assert.Equal(t, int64(1), unread(t, s, "bob"))
}

// The message is stored, a mark-read covers it, and only then does the
// sender's request record it. Nothing is left to read.
func TestCoordinator_RecordAfterMarkReadCoveredMessage(t *testing.T) {
	s, ctx := setup(t)
	c := NewCoordinator(s, nil, Config{}, nil)

	msg, err := s.CreateMessage(ctx, model.Message{ID: "1", ChatID: "c1", SenderID: "alice", Body: model.Body{Text: "1"}})
	require.NoError(t, err)
	res, err := c.MarkRead(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	require.NoError(t, c.RecordMessage(ctx, model.ChatMessage{Message: msg, Chat: members}))
	assert.Zero(t, unread(t, s, "bob"))
}

func TestCoordinator_CounterOnlyResetCarriesNoReadMark(t *testing.T) {
	s, ctx := setup(t)
	n := &recordingNotifier{}
	c := NewCoordinator(s, n, Config{}, nil)
	require.NoError(t, s.IncrementUnread(ctx, "c1", "bob"))

	res, err := c.MarkRead(ctx, "c1", "bob")
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Cleared)
	assert.True(t, res.ReadAt.IsZero())
	require.Len(t, n.calls, 1)
	assert.True(t, n.calls[0].ReadAt.IsZero())
}
