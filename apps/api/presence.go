package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type PresenceResponse struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// OnlineUsers returns the users the gateway currently reports online.
func (s *Server) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.online.OnlineUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, users)
}

// UserPresence reports whether one user is online.
func (s *Server) UserPresence(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "userID")
	online, err := s.online.IsOnline(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PresenceResponse{UserID: user, Online: online})
}
