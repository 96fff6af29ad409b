package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/gocql/gocql"
	"github.com/mahaj/snappy-realtime/pkg/db"
	"github.com/mahaj/snappy-realtime/pkg/model"
)

const messageColumns = `chat_id, id, sender_id, text, media_url, created_at, read_by`

// Scylla is the Store backed by the tables db.EnsureSchema creates.
type Scylla struct {
	session *db.Session
}

func NewScylla(session *db.Session) *Scylla {
	return &Scylla{session: session}
}

func (s *Scylla) CreateChat(ctx context.Context, chat model.Chat) (model.Chat, error) {
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = time.Now()
	}
	applied, err := s.session.Query(
		`INSERT INTO chats (id, name, is_group, members, admin_id, latest_message_id, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		chat.ID, chat.Name, chat.IsGroup, chat.Members, chat.AdminID, chat.LatestMessageID, chat.UpdatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return model.Chat{}, fmt.Errorf("insert chat %s: %w", chat.ID, err)
	}
	if !applied {
		return model.Chat{}, fmt.Errorf("chat %s: %w", chat.ID, ErrConflict)
	}

	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, u := range chat.Members {
		b.Query(`INSERT INTO user_chats (user_id, chat_id) VALUES (?, ?)`, u, chat.ID)
	}
	if err := s.session.ExecuteBatch(b); err != nil {
		return model.Chat{}, fmt.Errorf("index chat %s members: %w", chat.ID, err)
	}
	return s.GetChat(ctx, chat.ID)
}

func (s *Scylla) GetChat(ctx context.Context, id string) (model.Chat, error) {
	var c model.Chat
	err := s.session.Query(
		`SELECT id, name, is_group, members, admin_id, latest_message_id, updated_at FROM chats WHERE id = ?`, id,
	).WithContext(ctx).Scan(&c.ID, &c.Name, &c.IsGroup, &c.Members, &c.AdminID, &c.LatestMessageID, &c.UpdatedAt)
	if err != nil {
		return model.Chat{}, notFound(err, "chat %s", id)
	}
	slices.Sort(c.Members)

	c.UnreadCounts = make(map[string]int64, len(c.Members))
	for _, u := range c.Members {
		c.UnreadCounts[u] = 0
	}
	iter := s.session.Query(`SELECT user_id, unread_count FROM chat_unread WHERE chat_id = ?`, id).WithContext(ctx).Iter()
	var (
		user  string
		count int64
	)
	for iter.Scan(&user, &count) {
		if _, ok := c.UnreadCounts[user]; ok {
			c.UnreadCounts[user] = count
		}
	}
	if err := iter.Close(); err != nil {
		return model.Chat{}, fmt.Errorf("read unread counts for chat %s: %w", id, err)
	}
	return c, nil
}

func (s *Scylla) ListChats(ctx context.Context, user string) ([]model.Chat, error) {
	iter := s.session.Query(`SELECT chat_id FROM user_chats WHERE user_id = ?`, user).WithContext(ctx).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list chats for %s: %w", user, err)
	}

	out := make([]model.Chat, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetChat(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.Chat) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (s *Scylla) DeleteChat(ctx context.Context, id string) error {
	c, err := s.GetChat(ctx, id)
	if err != nil {
		return err
	}

	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`DELETE FROM chats WHERE id = ?`, id)
	for _, u := range c.Members {
		b.Query(`DELETE FROM user_chats WHERE user_id = ? AND chat_id = ?`, u, id)
	}
	if err := s.session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	if err := s.session.Query(`DELETE FROM messages WHERE chat_id = ?`, id).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("delete messages of chat %s: %w", id, err)
	}
	if err := s.session.Query(`DELETE FROM chat_unread WHERE chat_id = ?`, id).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("delete unread counts of chat %s: %w", id, err)
	}
	return nil
}

func (s *Scylla) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	id, err := parseMessageID(msg.ID)
	if err != nil {
		return model.Message{}, err
	}
	if err := s.chatExists(ctx, msg.ChatID); err != nil {
		return model.Message{}, err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ReadBy = slices.DeleteFunc(slices.Clone(msg.ReadBy), func(u string) bool { return u == msg.SenderID })

	applied, err := s.session.Query(
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		msg.ChatID, id, msg.SenderID, msg.Body.Text, msg.Body.MediaURL, msg.CreatedAt, msg.ReadBy,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	if !applied {
		return model.Message{}, fmt.Errorf("message %s: %w", msg.ID, ErrConflict)
	}

	err = s.session.Query(`UPDATE chats SET latest_message_id = ?, updated_at = ? WHERE id = ?`,
		msg.ID, msg.CreatedAt, msg.ChatID).WithContext(ctx).Exec()
	if err != nil {
		return model.Message{}, fmt.Errorf("update latest message of chat %s: %w", msg.ChatID, err)
	}
	return msg, nil
}

func (s *Scylla) GetMessage(ctx context.Context, chatID, id string) (model.Message, error) {
	n, err := parseMessageID(id)
	if err != nil {
		return model.Message{}, err
	}
	var (
		m   model.Message
		raw int64
	)
	err = s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND id = ?`, chatID, n).
		WithContext(ctx).
		Scan(&m.ChatID, &raw, &m.SenderID, &m.Body.Text, &m.Body.MediaURL, &m.CreatedAt, &m.ReadBy)
	if err != nil {
		return model.Message{}, notFound(err, "message %s in chat %s", id, chatID)
	}
	m.ID = strconv.FormatInt(raw, 10)
	return m, nil
}

func (s *Scylla) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	if err := s.chatExists(ctx, chatID); err != nil {
		return nil, err
	}
	iter := s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ?`, chatID).WithContext(ctx).Iter()

	var out []model.Message
	for {
		var (
			m   model.Message
			raw int64
		)
		if !iter.Scan(&m.ChatID, &raw, &m.SenderID, &m.Body.Text, &m.Body.MediaURL, &m.CreatedAt, &m.ReadBy) {
			break
		}
		m.ID = strconv.FormatInt(raw, 10)
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read messages of chat %s: %w", chatID, err)
	}
	return out, nil
}

func (s *Scylla) TombstoneMessage(ctx context.Context, chatID, id string) (model.Message, bool, error) {
	m, err := s.GetMessage(ctx, chatID, id)
	if err != nil {
		return model.Message{}, false, err
	}
	if !m.Tombstone() {
		return m, false, nil
	}
	n, _ := parseMessageID(id)
	err = s.session.Query(`UPDATE messages SET text = ?, media_url = '' WHERE chat_id = ? AND id = ?`,
		model.DeletedText, chatID, n).WithContext(ctx).Exec()
	if err != nil {
		return model.Message{}, false, fmt.Errorf("tombstone message %s: %w", id, err)
	}
	return m, true, nil
}

func (s *Scylla) IncrementUnread(ctx context.Context, chatID, user string) error {
	err := s.session.Query(`UPDATE chat_unread SET unread_count = unread_count + 1 WHERE chat_id = ? AND user_id = ?`,
		chatID, user).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("increment unread %s/%s: %w", chatID, user, err)
	}
	return nil
}

// ResetUnread subtracts the observed count rather than deleting the row, so
// an increment landing between the read and the write survives.
func (s *Scylla) ResetUnread(ctx context.Context, chatID, user string) (int64, error) {
	var count int64
	err := s.session.Query(`SELECT unread_count FROM chat_unread WHERE chat_id = ? AND user_id = ?`,
		chatID, user).WithContext(ctx).Scan(&count)
	if errors.Is(err, gocql.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read unread %s/%s: %w", chatID, user, err)
	}
	if count == 0 {
		return 0, nil
	}
	err = s.session.Query(`UPDATE chat_unread SET unread_count = unread_count - ? WHERE chat_id = ? AND user_id = ?`,
		count, chatID, user).WithContext(ctx).Exec()
	if err != nil {
		return 0, fmt.Errorf("reset unread %s/%s: %w", chatID, user, err)
	}
	return count, nil
}

func (s *Scylla) UnreadMessages(ctx context.Context, chatID, user string) ([]model.Message, error) {
	all, err := s.GetMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(m model.Message) bool {
		return m.SenderID == user || m.IsReadBy(user)
	}), nil
}

func (s *Scylla) AddReader(ctx context.Context, chatID, messageID, user string) error {
	m, err := s.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if m.SenderID == user || m.IsReadBy(user) {
		return nil
	}
	n, _ := parseMessageID(messageID)
	err = s.session.Query(`UPDATE messages SET read_by = read_by + ? WHERE chat_id = ? AND id = ?`,
		[]string{user}, chatID, n).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("add reader %s to message %s: %w", user, messageID, err)
	}
	return nil
}

func (s *Scylla) chatExists(ctx context.Context, chatID string) error {
	var id string
	err := s.session.Query(`SELECT id FROM chats WHERE id = ?`, chatID).WithContext(ctx).Scan(&id)
	return notFound(err, "chat %s", chatID)
}

func parseMessageID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message id %q: %w", id, ErrNotFound)
	}
	return n, nil
}

func notFound(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
