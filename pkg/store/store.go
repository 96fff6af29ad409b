// Package store persists chats, messages, unread counters and read sets.
// Every method is durable once it returns without error.
package store

import (
	"context"
	"errors"

	"github.com/mahaj/snappy-realtime/pkg/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Store interface {
	CreateChat(ctx context.Context, chat model.Chat) (model.Chat, error)
	// GetChat fills UnreadCounts for every member.
	GetChat(ctx context.Context, id string) (model.Chat, error)
	// ListChats returns user's chats, most recently updated first.
	ListChats(ctx context.Context, user string) ([]model.Chat, error)
	// DeleteChat removes the chat with its messages and counters.
	DeleteChat(ctx context.Context, id string) error

	// CreateMessage stores msg and makes it the chat's latest message.
	CreateMessage(ctx context.Context, msg model.Message) (model.Message, error)
	// GetMessages returns a chat's messages oldest first.
	GetMessages(ctx context.Context, chatID string) ([]model.Message, error)
	// TombstoneMessage replaces the body with the deleted sentinel and
	// reports whether it changed anything.
	TombstoneMessage(ctx context.Context, chatID, id string) (model.Message, bool, error)

	Counters
}

// Counters is the part of the store the receipt coordinator drives.
type Counters interface {
	GetMessage(ctx context.Context, chatID, id string) (model.Message, error)
	// IncrementUnread adds one to user's unread count on chatID atomically.
	IncrementUnread(ctx context.Context, chatID, user string) error
	// ResetUnread sets the count to zero and returns the value it replaced.
	// Increments racing with the reset are never lost.
	ResetUnread(ctx context.Context, chatID, user string) (int64, error)
	// UnreadMessages returns messages in chatID not sent by user whose
	// read set lacks user.
	UnreadMessages(ctx context.Context, chatID, user string) ([]model.Message, error)
	// AddReader adds user to a message's read set. It is idempotent and
	// never adds the sender.
	AddReader(ctx context.Context, chatID, messageID, user string) error
}
