package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mahaj/snappy-realtime/pkg/clientstate"
)

// renderer prints transcript changes to a terminal. It only runs on the
// driver goroutine.
type renderer struct {
	out    io.Writer
	hidden clientstate.Hidden

	open    string
	printed map[string]string
	typing  bool
}

func newRenderer(out io.Writer, hidden clientstate.Hidden) *renderer {
	return &renderer{out: out, hidden: hidden, printed: make(map[string]string)}
}

func (r *renderer) reset() {
	r.open = ""
	clear(r.printed)
	r.typing = false
}

func (r *renderer) render(s *clientstate.State) {
	if s.OpenID() != r.open {
		r.reset()
		r.open = s.OpenID()
		if r.open != "" {
			fmt.Fprintf(r.out, "--- %s ---\n", r.open)
		}
	}

	visible := make(map[string]bool)
	for _, e := range s.Visible(r.hidden) {
		key := entryKey(e)
		visible[key] = true
		line := formatEntry(s.Me(), e)
		if r.printed[key] == line {
			continue
		}
		r.printed[key] = line
		fmt.Fprintln(r.out, line)
	}
	for key := range r.printed {
		if !visible[key] {
			delete(r.printed, key)
			fmt.Fprintf(r.out, "  (message %s hidden on this device)\n", key)
		}
	}

	if typing := s.IsTyping(); typing != r.typing {
		r.typing = typing
		if typing {
			fmt.Fprintln(r.out, "  ... someone is typing")
		}
	}
}

func (r *renderer) chatList(s *clientstate.State) {
	items := s.ChatList()
	if len(items) == 0 {
		fmt.Fprintln(r.out, "no chats yet")
		return
	}
	for _, c := range items {
		name := c.Chat.Name
		if name == "" {
			name = strings.Join(c.Chat.Recipients(s.Me()), ", ")
		}
		var online []string
		for _, u := range c.Chat.Recipients(s.Me()) {
			if s.IsOnline(u) {
				online = append(online, u)
			}
		}
		preview := ""
		if c.Latest != nil {
			preview = bodyText(c.Latest.Body.Text, c.Latest.Body.MediaURL)
		}
		fmt.Fprintf(r.out, "%-24s %-20s unread=%d online=[%s] %s\n",
			c.Chat.ID, name, c.Unread, strings.Join(online, ","), preview)
	}
}

func entryKey(e clientstate.Entry) string {
	if e.TempID != "" {
		return e.TempID
	}
	return e.ID
}

func formatEntry(me string, e clientstate.Entry) string {
	who := e.SenderID
	if who == me {
		who = "you"
	}
	var tags []string
	switch e.Status {
	case clientstate.StatusPending:
		tags = append(tags, "sending")
	case clientstate.StatusFailed:
		tags = append(tags, "failed")
	}
	if len(e.ReadBy) > 0 {
		tags = append(tags, "read by "+strings.Join(e.ReadBy, ","))
	}
	line := fmt.Sprintf("[%s] %s: %s", e.ID, who, bodyText(e.Body.Text, e.Body.MediaURL))
	if len(tags) > 0 {
		line += " (" + strings.Join(tags, "; ") + ")"
	}
	return line
}

func bodyText(text, mediaURL string) string {
	if mediaURL != "" {
		return "<media " + mediaURL + ">"
	}
	return text
}
