package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMalformedEvent = errors.New("malformed event")

type EventName string

const (
	EventSetup           EventName = "setup"
	EventGetOnlineUsers  EventName = "get-online-users"
	EventUserOnline      EventName = "user-online"
	EventUserOffline     EventName = "user-offline"
	EventJoinChat        EventName = "join-chat"
	EventTyping          EventName = "typing"
	EventStopTyping      EventName = "stop-typing"
	EventNewMessage      EventName = "new-message"
	EventMessageReceived EventName = "message-received"
	EventMessageDeleted  EventName = "message-deleted"
	EventDeleteMessage   EventName = "delete-message"
	EventMarkRead        EventName = "mark-read"
	EventMessagesRead    EventName = "messages-read"
	EventNewGroup        EventName = "new-group"
	EventAddedToGroup    EventName = "added-to-group"
)

// Event is the envelope for everything on the real-time channel and on the
// Kafka topic between the API and the gateway.
type Event struct {
	Name EventName       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(name EventName, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// MustEvent is NewEvent for payloads that always marshal.
func MustEvent(name EventName, payload any) Event {
	ev, err := NewEvent(name, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedEvent, e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, e.Name, err)
	}
	return nil
}

type SetupPayload struct {
	UserID string `json:"user_id"`
}

type DeleteMessagePayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
}

type MarkReadPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

type MessagesReadPayload struct {
	ChatID       string    `json:"chat_id"`
	ReadByUserID string    `json:"read_by_user_id"`
	ReadAt       time.Time `json:"read_at"`
}

// DecodeChatID reads the bare chat id carried by join-chat, typing and
// stop-typing.
func (e Event) DecodeChatID() (string, error) {
	var id string
	if err := e.Decode(&id); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s: empty chat id", ErrMalformedEvent, e.Name)
	}
	return id, nil
}

// DecodeChatMessage reads a new-message or message-received payload and
// rejects one without a chat reference.
func (e Event) DecodeChatMessage() (ChatMessage, error) {
	var m ChatMessage
	if err := e.Decode(&m); err != nil {
		return ChatMessage{}, err
	}
	if m.Chat.ID == "" && m.ChatID == "" {
		return ChatMessage{}, fmt.Errorf("%w: %s: missing chat", ErrMalformedEvent, e.Name)
	}
	if m.ChatID == "" {
		m.ChatID = m.Chat.ID
	}
	if m.Chat.ID == "" {
		m.Chat.ID = m.ChatID
	}
	if m.Chat.ID != m.ChatID {
		return ChatMessage{}, fmt.Errorf("%w: %s: chat mismatch", ErrMalformedEvent, e.Name)
	}
	return m, nil
}
