package receipt

import (
	"context"

	"github.com/mahaj/snappy-realtime/pkg/model"
)

// Room sends an event to the sessions that opened a chat.
type Room interface {
	Broadcast(chatID string, ev model.Event, exceptSessionID string) int
}

// RoomNotifier delivers messages-read to every session in the chat's room,
// including the reader's own other devices.
type RoomNotifier struct {
	Rooms Room
}

func (n RoomNotifier) MessagesRead(_ context.Context, p model.MessagesReadPayload) error {
	ev, err := model.NewEvent(model.EventMessagesRead, p)
	if err != nil {
		return err
	}
	n.Rooms.Broadcast(p.ChatID, ev, "")
	return nil
}
