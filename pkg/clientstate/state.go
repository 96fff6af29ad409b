// Package clientstate reconciles one device's view of its chats against its
// own optimistic sends, fetched snapshots and pushed events.
//
// State is not safe for concurrent use. Driver owns one State and applies
// every input to it on a single goroutine.
package clientstate

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/snappy-realtime/pkg/model"
)

// Status is where a transcript entry is in its life.
type Status int

const (
	// StatusPending is a local send awaiting the server response.
	StatusPending Status = iota
	// StatusConfirmed carries a server-assigned id.
	StatusConfirmed
	// StatusFailed is a local send the server rejected.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is what ReceiveMessage did with a pushed message.
type Outcome int

const (
	// Appended to the open transcript.
	Appended Outcome = iota
	// Counted on a closed chat's badge.
	Counted
	// SelfEcho is our own message coming back; it changes nothing.
	SelfEcho
	// Duplicate is a message id already seen.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Counted:
		return "counted"
	case SelfEcho:
		return "self-echo"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

type Entry struct {
	model.Message
	TempID string
	Status Status
}

type ChatItem struct {
	Chat   model.ChatSummary
	Latest *model.Message
	Unread int64
}

type EffectKind int

const (
	EffectJoinChat EffectKind = iota
	EffectFetchMessages
	EffectMarkRead
	EffectPostMessage
)

// Effect is a round trip the driver must perform for the state.
type Effect struct {
	Kind   EffectKind
	ChatID string
	TempID string
	Body   model.Body
}

type State struct {
	me   string
	now  func() time.Time
	ttl  time.Duration
	open string

	transcript []Entry
	// unreadOnOpen is the open chat's badge at the moment it was opened.
	unreadOnOpen int64

	chats  []ChatItem
	seen   map[string]struct{}
	online map[string]bool
	typing map[string]time.Time          // chat → indicator expiry
	reads  map[string]map[string]time.Time // chat → reader → latest read_at
}

// New returns the state for user me. typingTTL bounds how long a typing
// indicator survives without a stop-typing.
func New(me string, typingTTL time.Duration) *State {
	return &State{
		me:     me,
		now:    time.Now,
		ttl:    typingTTL,
		seen:   make(map[string]struct{}),
		online: make(map[string]bool),
		typing: make(map[string]time.Time),
		reads:  make(map[string]map[string]time.Time),
	}
}

func (s *State) Me() string     { return s.me }
func (s *State) OpenID() string { return s.open }

// LoadChats replaces the chat list with a fetched one, keeping its order.
func (s *State) LoadChats(chats []model.ChatListing) {
	s.chats = s.chats[:0]
	for _, c := range chats {
		item := ChatItem{Chat: c.Summary(), Unread: c.UnreadCounts[s.me]}
		if c.LatestMessage != nil {
			latest := c.LatestMessage.Clone()
			item.Latest = &latest
		}
		if c.ID == s.open {
			item.Unread = 0
		}
		s.chats = append(s.chats, item)
	}
}

// AddChat puts a chat at the front of the list unless it is already there.
func (s *State) AddChat(chat model.ChatSummary) {
	if s.chatIndex(chat.ID) >= 0 {
		return
	}
	s.chats = slices.Insert(s.chats, 0, ChatItem{Chat: chat})
}

// AddedToGroup handles a group someone else created with us in it.
func (s *State) AddedToGroup(chat model.ChatSummary) {
	s.AddChat(chat)
}

func (s *State) RemoveChat(chatID string) {
	if i := s.chatIndex(chatID); i >= 0 {
		s.chats = slices.Delete(s.chats, i, i+1)
	}
	if s.open == chatID {
		s.open = ""
		s.transcript = nil
	}
	delete(s.typing, chatID)
	delete(s.reads, chatID)
}

// OpenChat switches the transcript to chatID and clears its badge locally.
// The server count is reset by the mark-read issued once the snapshot lands.
func (s *State) OpenChat(chatID string) []Effect {
	if chatID == "" {
		return nil
	}
	s.open = chatID
	s.transcript = nil
	s.unreadOnOpen = 0
	if i := s.chatIndex(chatID); i >= 0 {
		s.unreadOnOpen = s.chats[i].Unread
		s.chats[i].Unread = 0
	}
	return []Effect{
		{Kind: EffectJoinChat, ChatID: chatID},
		{Kind: EffectFetchMessages, ChatID: chatID},
	}
}

// CloseChat leaves the transcript view; later messages count on the badge.
func (s *State) CloseChat() {
	s.open = ""
	s.transcript = nil
}

// ApplySnapshot merges fetched messages into the open transcript. Entries
// that are not in the snapshot (pending sends, pushes that raced the fetch)
// are kept after it. A snapshot for a chat that is no longer open is
// ignored. It asks for a mark-read when the snapshot holds anything we have
// not read.
func (s *State) ApplySnapshot(chatID string, msgs []model.Message) []Effect {
	if chatID != s.open {
		return nil
	}

	next := make([]Entry, 0, len(msgs)+len(s.transcript))
	inSnapshot := make(map[string]struct{}, len(msgs))
	needsRead := s.unreadOnOpen > 0
	for _, m := range msgs {
		if _, dup := inSnapshot[m.ID]; dup {
			continue
		}
		inSnapshot[m.ID] = struct{}{}
		s.seen[m.ID] = struct{}{}
		e := Entry{Message: m.Clone(), Status: StatusConfirmed}
		s.applyReads(&e)
		next = append(next, e)
		if m.SenderID != s.me && !m.IsReadBy(s.me) {
			needsRead = true
		}
	}
	for _, e := range s.transcript {
		if e.Status == StatusConfirmed {
			if _, ok := inSnapshot[e.ID]; ok {
				continue
			}
		}
		next = append(next, e)
	}
	s.transcript = next
	s.unreadOnOpen = 0

	if len(msgs) > 0 {
		if i := s.chatIndex(chatID); i >= 0 && s.chats[i].Latest == nil {
			preview := msgs[len(msgs)-1].Clone()
			s.chats[i].Latest = &preview
		}
	}
	if !needsRead {
		return nil
	}
	return []Effect{{Kind: EffectMarkRead, ChatID: chatID}}
}

// BeginSend appends an optimistic entry to the open transcript and moves the
// chat to the front. It returns the temporary id the confirmation will
// reference.
func (s *State) BeginSend(body model.Body) (string, []Effect) {
	if s.open == "" || body.Empty() {
		return "", nil
	}
	tempID := uuid.NewString()
	msg := model.Message{
		ID:        tempID,
		ChatID:    s.open,
		SenderID:  s.me,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	s.transcript = append(s.transcript, Entry{Message: msg, TempID: tempID, Status: StatusPending})
	s.touch(model.ChatSummary{ID: s.open}, msg, false)
	return tempID, []Effect{{Kind: EffectPostMessage, ChatID: s.open, TempID: tempID, Body: body}}
}

// ConfirmSend swaps the pending entry for the stored message.
func (s *State) ConfirmSend(tempID string, msg model.Message) {
	s.seen[msg.ID] = struct{}{}
	s.replacePreview(msg.ChatID, tempID, msg)

	i := s.entryIndex(func(e Entry) bool { return e.TempID == tempID })
	if i < 0 {
		return
	}
	if s.entryIndex(func(e Entry) bool { return e.Status == StatusConfirmed && e.ID == msg.ID }) >= 0 {
		s.transcript = slices.Delete(s.transcript, i, i+1)
		return
	}
	e := Entry{Message: msg.Clone(), TempID: tempID, Status: StatusConfirmed}
	s.applyReads(&e)
	s.transcript[i] = e
}

func (s *State) FailSend(tempID string) {
	if i := s.entryIndex(func(e Entry) bool { return e.TempID == tempID }); i >= 0 {
		s.transcript[i].Status = StatusFailed
	}
}

// ReceiveMessage reconciles a pushed message:
//   - our own message is suppressed entirely;
//   - an id already seen is skipped;
//   - a message for the open chat is appended and triggers a mark-read;
//   - any other chat's badge goes up by one.
//
// Every accepted message moves its chat to the front with a fresh preview.
func (s *State) ReceiveMessage(msg model.ChatMessage) (Outcome, []Effect) {
	if msg.SenderID == s.me {
		return SelfEcho, nil
	}
	if _, ok := s.seen[msg.ID]; ok {
		return Duplicate, nil
	}
	s.seen[msg.ID] = struct{}{}

	if msg.ChatID == s.open {
		e := Entry{Message: msg.Message.Clone(), Status: StatusConfirmed}
		s.applyReads(&e)
		s.transcript = append(s.transcript, e)
		s.touch(msg.Chat, msg.Message, false)
		return Appended, []Effect{{Kind: EffectMarkRead, ChatID: msg.ChatID}}
	}

	s.touch(msg.Chat, msg.Message, true)
	return Counted, nil
}

// MessagesRead applies a read mark from reader to the open transcript and
// remembers it for messages that arrive later. A read by us from another
// device clears the local badge.
func (s *State) MessagesRead(p model.MessagesReadPayload) {
	if p.ChatID == "" || p.ReadByUserID == "" {
		return
	}
	if p.ReadByUserID == s.me {
		if i := s.chatIndex(p.ChatID); i >= 0 {
			s.chats[i].Unread = 0
		}
	}
	// Without a read_at only the counter was reset; no message changed.
	if p.ReadAt.IsZero() {
		return
	}
	marks := s.reads[p.ChatID]
	if marks == nil {
		marks = make(map[string]time.Time)
		s.reads[p.ChatID] = marks
	}
	if prev, ok := marks[p.ReadByUserID]; !ok || p.ReadAt.After(prev) {
		marks[p.ReadByUserID] = p.ReadAt
	}
	if p.ChatID != s.open {
		return
	}
	for i := range s.transcript {
		s.applyReads(&s.transcript[i])
	}
}

// MessageDeleted tombstones a message wherever it is shown. Repeats are
// no-ops.
func (s *State) MessageDeleted(messageID string) {
	for i := range s.transcript {
		if s.transcript[i].ID == messageID {
			s.transcript[i].Tombstone()
		}
	}
	for i := range s.chats {
		if l := s.chats[i].Latest; l != nil && l.ID == messageID {
			l.Tombstone()
		}
	}
}

func (s *State) Typing(chatID string) {
	if chatID == "" {
		return
	}
	s.typing[chatID] = s.now().Add(s.ttl)
}

func (s *State) StopTyping(chatID string) {
	delete(s.typing, chatID)
}

// IsTyping reports whether someone is typing in the open chat.
func (s *State) IsTyping() bool {
	until, ok := s.typing[s.open]
	if !ok {
		return false
	}
	if s.ttl > 0 && !s.now().Before(until) {
		delete(s.typing, s.open)
		return false
	}
	return true
}

func (s *State) SetOnlineUsers(users []string) {
	clear(s.online)
	for _, u := range users {
		s.online[u] = true
	}
}

func (s *State) UserOnline(user string)  { s.online[user] = true }
func (s *State) UserOffline(user string) { delete(s.online, user) }

func (s *State) IsOnline(user string) bool { return s.online[user] }

// Transcript returns the open chat's entries, hidden ones included.
func (s *State) Transcript() []Entry {
	out := make([]Entry, len(s.transcript))
	for i, e := range s.transcript {
		out[i] = e
		out[i].Message = e.Message.Clone()
	}
	return out
}

// Hidden reports whether a message is hidden on this device.
type Hidden interface {
	IsHidden(messageID string) bool
}

// Visible returns the transcript without the entries hidden on this device.
func (s *State) Visible(h Hidden) []Entry {
	out := s.Transcript()
	if h == nil {
		return out
	}
	return slices.DeleteFunc(out, func(e Entry) bool { return h.IsHidden(e.ID) })
}

func (s *State) ChatList() []ChatItem {
	out := make([]ChatItem, len(s.chats))
	for i, c := range s.chats {
		out[i] = c
		out[i].Chat.Members = slices.Clone(c.Chat.Members)
		if c.Latest != nil {
			l := c.Latest.Clone()
			out[i].Latest = &l
		}
	}
	return out
}

func (s *State) Badge(chatID string) int64 {
	if i := s.chatIndex(chatID); i >= 0 {
		return s.chats[i].Unread
	}
	return 0
}

// touch moves the chat to the front with msg as its preview, adding the
// chat if this is the first we hear of it.
func (s *State) touch(chat model.ChatSummary, msg model.Message, countUnread bool) {
	var item ChatItem
	if i := s.chatIndex(chat.ID); i >= 0 {
		item = s.chats[i]
		s.chats = slices.Delete(s.chats, i, i+1)
	} else {
		item = ChatItem{Chat: chat}
	}
	preview := msg.Clone()
	item.Latest = &preview
	if countUnread {
		item.Unread++
	}
	s.chats = slices.Insert(s.chats, 0, item)
}

func (s *State) replacePreview(chatID, tempID string, msg model.Message) {
	i := s.chatIndex(chatID)
	if i < 0 {
		return
	}
	if l := s.chats[i].Latest; l != nil && l.ID == tempID {
		preview := msg.Clone()
		s.chats[i].Latest = &preview
	}
}

// applyReads marks e read by every reader whose recorded read_at is not
// before e was created. Pending entries have no server time yet.
func (s *State) applyReads(e *Entry) {
	if e.Status != StatusConfirmed {
		return
	}
	for reader, at := range s.reads[e.ChatID] {
		if !e.CreatedAt.After(at) {
			e.MarkReadBy(reader)
		}
	}
	slices.Sort(e.ReadBy)
}

func (s *State) chatIndex(chatID string) int {
	return slices.IndexFunc(s.chats, func(c ChatItem) bool { return c.Chat.ID == chatID })
}

func (s *State) entryIndex(match func(Entry) bool) int {
	return slices.IndexFunc(s.transcript, match)
}
