package fanout

import (
	"slices"
	"strings"
	"sync"

	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/mahaj/snappy-realtime/pkg/presence"
)

// Rooms tracks which sessions have opened which chats (join-chat). Typing,
// message-deleted and messages-read go to a chat's room rather than to its
// members.
type Rooms struct {
	mu       sync.RWMutex
	chats    map[string]map[string]presence.Session // chat → session id → session
	sessions map[string]map[string]bool             // session id → chats
}

func NewRooms() *Rooms {
	return &Rooms{
		chats:    make(map[string]map[string]presence.Session),
		sessions: make(map[string]map[string]bool),
	}
}

func (r *Rooms) Join(chatID string, s presence.Session) {
	if chatID == "" || s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chats[chatID] == nil {
		r.chats[chatID] = make(map[string]presence.Session)
	}
	r.chats[chatID][s.ID()] = s
	if r.sessions[s.ID()] == nil {
		r.sessions[s.ID()] = make(map[string]bool)
	}
	r.sessions[s.ID()][chatID] = true
}

func (r *Rooms) Leave(chatID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(chatID, sessionID)
}

// LeaveAll drops the session from every room and returns the chats it was in.
func (r *Rooms) LeaveAll(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	chats := make([]string, 0, len(r.sessions[sessionID]))
	for chatID := range r.sessions[sessionID] {
		chats = append(chats, chatID)
	}
	for _, chatID := range chats {
		r.leaveLocked(chatID, sessionID)
	}
	slices.Sort(chats)
	return chats
}

func (r *Rooms) leaveLocked(chatID, sessionID string) {
	if members, ok := r.chats[chatID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.chats, chatID)
		}
	}
	if chats, ok := r.sessions[sessionID]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// Members returns the sessions in a chat's room ordered by session id.
func (r *Rooms) Members(chatID string) []presence.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]presence.Session, 0, len(r.chats[chatID]))
	for _, s := range r.chats[chatID] {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b presence.Session) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// Broadcast sends ev to every session in the room except exceptSessionID
// (empty excludes nobody) and returns how many accepted it.
func (r *Rooms) Broadcast(chatID string, ev model.Event, exceptSessionID string) int {
	sent := 0
	for _, s := range r.Members(chatID) {
		if s.ID() == exceptSessionID {
			continue
		}
		if s.Send(ev) {
			sent++
		}
	}
	return sent
}
