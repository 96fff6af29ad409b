package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/mahaj/snappy-realtime/pkg/auth"
	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/mahaj/snappy-realtime/pkg/store"
)

// minGroupOthers is how many members besides the creator a group needs.
const minGroupOthers = 2

type CreateChatRequest struct {
	Name    string   `json:"name"`
	IsGroup bool     `json:"is_group"`
	Members []string `json:"members"`
}

// ListChats returns the caller's chats, most recent first, each with its
// latest message.
func (s *Server) ListChats(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	chats, err := s.store.ListChats(r.Context(), claims.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	listings := make([]model.ChatListing, 0, len(chats))
	for _, c := range chats {
		l := model.ChatListing{Chat: c}
		if c.LatestMessageID != "" {
			msg, err := s.store.GetMessage(r.Context(), c.ID, c.LatestMessageID)
			switch {
			case err == nil:
				l.LatestMessage = &msg
			case !errors.Is(err, store.ErrNotFound):
				s.fail(w, r, err)
				return
			}
		}
		listings = append(listings, l)
	}
	writeJSON(w, http.StatusOK, listings)
}

// CreateChat opens a direct chat with one other user, returning the existing
// one if there is one, or creates a group administered by the caller.
func (s *Server) CreateChat(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	chat, err := newChat(claims.UserID, req, s.ids.NextID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	created, err := s.store.CreateChat(r.Context(), chat)
	if errors.Is(err, store.ErrConflict) && !chat.IsGroup {
		existing, err := s.store.GetChat(r.Context(), chat.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if created.IsGroup {
		s.publish(r, created.ID, model.EventNewGroup, created.Summary())
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetChat returns one chat to a member.
func (s *Server) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, _, err := s.member(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// DeleteChat removes a chat with its messages and counters. Any member may
// delete a direct chat; only the admin may delete a group.
func (s *Server) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chat, user, err := s.member(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if chat.IsGroup && chat.AdminID != user {
		s.fail(w, r, fmt.Errorf("%w: only the group admin can delete it", errForbidden))
		return
	}
	if err := s.store.DeleteChat(r.Context(), chat.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newChat(creator string, req CreateChatRequest, nextID func() string) (model.Chat, error) {
	var others []string
	for _, m := range req.Members {
		m = strings.TrimSpace(m)
		if m == "" || m == creator || slices.Contains(others, m) {
			continue
		}
		others = append(others, m)
	}

	if !req.IsGroup {
		if len(others) != 1 {
			return model.Chat{}, fmt.Errorf("%w: a direct chat needs exactly one other member", errBadRequest)
		}
		members := []string{creator, others[0]}
		slices.Sort(members)
		return model.Chat{
			ID:      directChatID(members[0], members[1]),
			Members: members,
		}, nil
	}

	if strings.TrimSpace(req.Name) == "" {
		return model.Chat{}, fmt.Errorf("%w: a group needs a name", errBadRequest)
	}
	if len(others) < minGroupOthers {
		return model.Chat{}, fmt.Errorf("%w: a group needs at least %d other members", errBadRequest, minGroupOthers)
	}
	return model.Chat{
		ID:      nextID(),
		Name:    strings.TrimSpace(req.Name),
		IsGroup: true,
		Members: append([]string{creator}, others...),
		AdminID: creator,
	}, nil
}

// directChatID names the one direct chat between two users.
func directChatID(a, b string) string {
	return "dm:" + a + ":" + b
}
