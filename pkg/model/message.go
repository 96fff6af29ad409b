package model

import (
	"slices"
	"time"
)

// DeletedText replaces the body of a message deleted for everyone.
const DeletedText = "[This message was deleted]"

// Body is either text or a reference to externally stored media.
type Body struct {
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

func (b Body) Deleted() bool {
	return b.Text == DeletedText && b.MediaURL == ""
}

func (b Body) Empty() bool {
	return b.Text == "" && b.MediaURL == ""
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Body      Body      `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	ReadBy    []string  `json:"read_by"`
}

// Tombstone replaces the body with the deleted sentinel. It reports whether
// anything changed, so a second call is a no-op.
func (m *Message) Tombstone() bool {
	if m.Body.Deleted() {
		return false
	}
	m.Body = Body{Text: DeletedText}
	return true
}

// MarkReadBy adds user to ReadBy. The sender is never added to its own
// message and an existing reader is not added twice.
func (m *Message) MarkReadBy(user string) bool {
	if user == "" || user == m.SenderID || m.IsReadBy(user) {
		return false
	}
	m.ReadBy = append(m.ReadBy, user)
	return true
}

func (m *Message) IsReadBy(user string) bool {
	return slices.Contains(m.ReadBy, user)
}

// ReadByAll reports whether every member other than the sender has read m.
func (m *Message) ReadByAll(members []string) bool {
	others := 0
	for _, u := range members {
		if u == m.SenderID {
			continue
		}
		others++
		if !m.IsReadBy(u) {
			return false
		}
	}
	return others > 0
}

// Clone returns a copy that does not share the ReadBy slice.
func (m Message) Clone() Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	return m
}

// ChatMessage is a message together with the chat it belongs to. It is the
// payload of new-message and message-received.
type ChatMessage struct {
	Message
	Chat ChatSummary `json:"chat"`
}
