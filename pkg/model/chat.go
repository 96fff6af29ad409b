package model

import (
	"slices"
	"time"
)

type Chat struct {
	ID              string           `json:"id"`
	Name            string           `json:"name,omitempty"`
	IsGroup         bool             `json:"is_group"`
	Members         []string         `json:"members"`
	AdminID         string           `json:"admin_id,omitempty"`
	LatestMessageID string           `json:"latest_message_id,omitempty"`
	UnreadCounts    map[string]int64 `json:"unread_counts,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (c *Chat) HasMember(user string) bool {
	return slices.Contains(c.Members, user)
}

func (c *Chat) Summary() ChatSummary {
	return ChatSummary{
		ID:      c.ID,
		Name:    c.Name,
		IsGroup: c.IsGroup,
		Members: slices.Clone(c.Members),
		AdminID: c.AdminID,
	}
}

// ChatSummary is the part of a chat that travels with real-time events.
type ChatSummary struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	IsGroup bool     `json:"is_group"`
	Members []string `json:"members"`
	AdminID string   `json:"admin_id,omitempty"`
}

// Recipients returns the members other than except, deduplicated, in
// member order.
func (s ChatSummary) Recipients(except string) []string {
	out := make([]string, 0, len(s.Members))
	for _, u := range s.Members {
		if u == "" || u == except || slices.Contains(out, u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// ChatListing is a chat as the chat list shows it.
type ChatListing struct {
	Chat
	LatestMessage *Message `json:"latest_message,omitempty"`
}
