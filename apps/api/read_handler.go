package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/receipt"
)

type ReadResponse struct {
	Updated   int       `json:"updated"`
	Cleared   int64     `json:"cleared"`
	ReadAt    time.Time `json:"read_at,omitzero"`
	Broadcast bool      `json:"broadcast"`
}

// MarkRead marks every message the caller has not read as read and resets
// its unread count.
func (s *Server) MarkRead(w http.ResponseWriter, r *http.Request) {
	chat, user, err := s.member(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.receipts.MarkRead(r.Context(), chat.ID, user)
	if errors.Is(err, receipt.ErrPartialRead) {
		s.log.Warn("mark read incomplete", "chat", chat.ID, "user", user, "updated", res.Updated, "error", err)
		http.Error(w, "Failed to mark all messages read, retry", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ReadResponse{
		Updated:   res.Updated,
		Cleared:   res.Cleared,
		ReadAt:    res.ReadAt,
		Broadcast: res.Broadcast,
	})
}
