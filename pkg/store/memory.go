package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/model"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu       sync.Mutex
	chats    map[string]*model.Chat
	messages map[string][]*model.Message // chat → messages in insert order
	unread   map[string]map[string]int64 // chat → user → count
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		chats:    make(map[string]*model.Chat),
		messages: make(map[string][]*model.Message),
		unread:   make(map[string]map[string]int64),
		now:      time.Now,
	}
}

func (m *Memory) CreateChat(_ context.Context, chat model.Chat) (model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chat.ID]; ok {
		return model.Chat{}, fmt.Errorf("chat %s: %w", chat.ID, ErrConflict)
	}
	c := chat
	c.Members = slices.Clone(chat.Members)
	c.UnreadCounts = nil
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = m.now()
	}
	m.chats[c.ID] = &c
	m.unread[c.ID] = make(map[string]int64)
	return m.chatLocked(&c), nil
}

func (m *Memory) GetChat(_ context.Context, id string) (model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return model.Chat{}, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	return m.chatLocked(c), nil
}

func (m *Memory) ListChats(_ context.Context, user string) ([]model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Chat
	for _, c := range m.chats {
		if c.HasMember(user) {
			out = append(out, m.chatLocked(c))
		}
	}
	slices.SortFunc(out, func(a, b model.Chat) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (m *Memory) DeleteChat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[id]; !ok {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	delete(m.chats, id)
	delete(m.messages, id)
	delete(m.unread, id)
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, msg model.Message) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[msg.ChatID]
	if !ok {
		return model.Message{}, fmt.Errorf("chat %s: %w", msg.ChatID, ErrNotFound)
	}
	for _, existing := range m.messages[msg.ChatID] {
		if existing.ID == msg.ID {
			return model.Message{}, fmt.Errorf("message %s: %w", msg.ID, ErrConflict)
		}
	}
	stored := msg.Clone()
	stored.ReadBy = slices.DeleteFunc(stored.ReadBy, func(u string) bool { return u == msg.SenderID })
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], &stored)
	c.LatestMessageID = stored.ID
	c.UpdatedAt = stored.CreatedAt
	return stored.Clone(), nil
}

func (m *Memory) GetMessage(_ context.Context, chatID, id string) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, err := m.messageLocked(chatID, id)
	if err != nil {
		return model.Message{}, err
	}
	return msg.Clone(), nil
}

func (m *Memory) GetMessages(_ context.Context, chatID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	out := make([]model.Message, 0, len(m.messages[chatID]))
	for _, msg := range m.messages[chatID] {
		out = append(out, msg.Clone())
	}
	return out, nil
}

func (m *Memory) TombstoneMessage(_ context.Context, chatID, id string) (model.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, err := m.messageLocked(chatID, id)
	if err != nil {
		return model.Message{}, false, err
	}
	changed := msg.Tombstone()
	return msg.Clone(), changed, nil
}

func (m *Memory) IncrementUnread(_ context.Context, chatID, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts, ok := m.unread[chatID]
	if !ok {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	counts[user]++
	return nil
}

func (m *Memory) ResetUnread(_ context.Context, chatID, user string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts, ok := m.unread[chatID]
	if !ok {
		return 0, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	prev := counts[user]
	delete(counts, user)
	return prev, nil
}

func (m *Memory) UnreadMessages(_ context.Context, chatID, user string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	var out []model.Message
	for _, msg := range m.messages[chatID] {
		if msg.SenderID != user && !msg.IsReadBy(user) {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

func (m *Memory) AddReader(_ context.Context, chatID, messageID, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, err := m.messageLocked(chatID, messageID)
	if err != nil {
		return err
	}
	msg.MarkReadBy(user)
	return nil
}

func (m *Memory) messageLocked(chatID, id string) (*model.Message, error) {
	for _, msg := range m.messages[chatID] {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %s in chat %s: %w", id, chatID, ErrNotFound)
}

func (m *Memory) chatLocked(c *model.Chat) model.Chat {
	out := *c
	out.Members = slices.Clone(c.Members)
	out.UnreadCounts = make(map[string]int64, len(c.Members))
	for _, u := range c.Members {
		out.UnreadCounts[u] = m.unread[c.ID][u]
	}
	return out
}
