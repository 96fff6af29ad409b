package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mahaj/snappy-realtime/pkg/model"
)

// History returns a chat's messages oldest first.
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	chat, _, err := s.member(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	messages, err := s.store.GetMessages(r.Context(), chat.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendMessage stores a message, counts it as unread for the other members
// and publishes new-message.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	chat, user, err := s.member(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var body model.Body
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	body.Text = strings.TrimSpace(body.Text)
	if body.Empty() {
		s.fail(w, r, fmt.Errorf("%w: message needs text or media_url", errBadRequest))
		return
	}
	if body.Deleted() {
		s.fail(w, r, fmt.Errorf("%w: reserved message text", errBadRequest))
		return
	}

	msg, err := s.store.CreateMessage(r.Context(), model.Message{
		ID:        s.ids.NextID(),
		ChatID:    chat.ID,
		SenderID:  user,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	cm := model.ChatMessage{Message: msg, Chat: chat.Summary()}
	if err := s.receipts.RecordMessage(r.Context(), cm); err != nil {
		// The message is stored; counts catch up on the next mark-read.
		s.log.Error("unread counts not updated", "chat", chat.ID, "message", msg.ID, "error", err)
	}
	s.publish(r, chat.ID, model.EventNewMessage, cm)
	writeJSON(w, http.StatusCreated, msg)
}

// DeleteMessage replaces a message's body with the deleted sentinel for
// everyone. Only the sender may do it; repeating it changes nothing.
func (s *Server) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	chat, user, err := s.member(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	messageID := chi.URLParam(r, "messageID")
	msg, err := s.store.GetMessage(r.Context(), chat.ID, messageID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if msg.SenderID != user {
		s.fail(w, r, fmt.Errorf("%w: only the sender can delete a message", errForbidden))
		return
	}

	msg, changed, err := s.store.TombstoneMessage(r.Context(), chat.ID, messageID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if changed {
		s.publish(r, chat.ID, model.EventDeleteMessage, model.DeleteMessagePayload{MessageID: msg.ID, ChatID: chat.ID})
	}
	writeJSON(w, http.StatusOK, msg)
}

// publish is best effort: the write it describes is already durable.
func (s *Server) publish(r *http.Request, key string, name model.EventName, payload any) {
	ev, err := model.NewEvent(name, payload)
	if err == nil {
		err = s.events.Publish(r.Context(), key, ev)
	}
	if err != nil {
		s.log.Error("event not published", "event", name, "chat", key, "error", err)
	}
}
