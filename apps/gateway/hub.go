package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mahaj/snappy-realtime/pkg/fanout"
	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/mahaj/snappy-realtime/pkg/presence"
	"github.com/mahaj/snappy-realtime/pkg/receipt"
)

var (
	errNotOwner  = errors.New("payload does not belong to the session user")
	errNotMember = errors.New("session user is not a member of the chat")
	errBusOnly   = errors.New("event is only accepted from the API")
)

// Hub ties live connections to presence, chat rooms and message fanout.
// Sockets carry presence, room subscriptions and typing; messages, reads,
// deletions and group announcements arrive from the API over the bus after
// they are durable.
type Hub struct {
	presence *presence.Registry
	rooms    *fanout.Rooms
	router   *fanout.Router
	notifier receipt.RoomNotifier
	members  Membership
	log      *slog.Logger
}

func NewHub(members Membership, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	reg := presence.NewRegistry(log)
	rooms := fanout.NewRooms()
	return &Hub{
		presence: reg,
		rooms:    rooms,
		router:   fanout.NewRouter(reg, log),
		notifier: receipt.RoomNotifier{Rooms: rooms},
		members:  members,
		log:      log.With("component", "hub"),
	}
}

// Disconnect releases everything held by c. It is called once, when the
// read pump exits.
func (h *Hub) Disconnect(c *Client) {
	left := h.rooms.LeaveAll(c.ID())
	wentOffline := h.presence.Leave(c.ID())
	h.log.Info("Client unregistered", "session", c.ID(), "user", c.userID, "rooms", len(left), "offline", wentOffline)
}

// HandleClientEvent applies one event read from c's connection. Malformed or
// unauthorised events are dropped with a warning.
func (h *Hub) HandleClientEvent(ctx context.Context, c *Client, ev model.Event) {
	if err := h.handleClientEvent(ctx, c, ev); err != nil {
		h.log.Warn("dropping client event", "event", ev.Name, "session", c.ID(), "user", c.userID, "error", err)
	}
}

func (h *Hub) handleClientEvent(ctx context.Context, c *Client, ev model.Event) error {
	if ev.Name == model.EventSetup {
		return h.setup(c, ev)
	}
	if _, ok := h.presence.UserOf(c.ID()); !ok {
		return fmt.Errorf("%s before setup", ev.Name)
	}

	switch ev.Name {
	case model.EventJoinChat:
		chatID, err := ev.DecodeChatID()
		if err != nil {
			return err
		}
		if h.inRoom(chatID, c) {
			return nil
		}
		ok, err := h.members.IsMember(ctx, chatID, c.userID)
		if err != nil {
			return err
		}
		if !ok {
			return errNotMember
		}
		h.rooms.Join(chatID, c)

	case model.EventTyping, model.EventStopTyping:
		chatID, err := ev.DecodeChatID()
		if err != nil {
			return err
		}
		if !h.inRoom(chatID, c) {
			return errNotMember
		}
		h.rooms.Broadcast(chatID, ev, c.ID())

	case model.EventNewMessage, model.EventNewGroup, model.EventDeleteMessage, model.EventMarkRead:
		return errBusOnly

	default:
		return fmt.Errorf("unknown event %q", ev.Name)
	}
	return nil
}

func (h *Hub) setup(c *Client, ev model.Event) error {
	var p model.SetupPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.UserID == "" {
		p.UserID = c.userID
	}
	if p.UserID != c.userID {
		return errNotOwner
	}
	cameOnline := h.presence.Join(p.UserID, c)
	h.log.Info("Client registered", "session", c.ID(), "user", p.UserID, "online", cameOnline)
	return nil
}

// Dispatch fans out an event published by the API after its durable write.
func (h *Hub) Dispatch(ctx context.Context, ev model.Event) error {
	switch ev.Name {
	case model.EventNewMessage:
		msg, err := ev.DecodeChatMessage()
		if err != nil {
			return err
		}
		_, err = h.router.Route(ctx, msg)
		return err

	case model.EventNewGroup:
		var chat model.ChatSummary
		if err := ev.Decode(&chat); err != nil {
			return err
		}
		_, err := h.router.AnnounceGroup(ctx, chat)
		return err

	case model.EventDeleteMessage:
		var p model.DeleteMessagePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return h.messageDeleted(p)

	case model.EventMessagesRead:
		var p model.MessagesReadPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if p.ChatID == "" || p.ReadByUserID == "" {
			return fmt.Errorf("%w: messages-read without chat or reader", model.ErrMalformedEvent)
		}
		return h.notifier.MessagesRead(ctx, p)

	default:
		return fmt.Errorf("%w: unexpected bus event %q", model.ErrMalformedEvent, ev.Name)
	}
}

func (h *Hub) messageDeleted(p model.DeleteMessagePayload) error {
	if p.ChatID == "" || p.MessageID == "" {
		return fmt.Errorf("%w: delete-message without chat or message", model.ErrMalformedEvent)
	}
	ev, err := model.NewEvent(model.EventMessageDeleted, model.MessageDeletedPayload{MessageID: p.MessageID})
	if err != nil {
		return err
	}
	h.rooms.Broadcast(p.ChatID, ev, "")
	return nil
}

func (h *Hub) inRoom(chatID string, c *Client) bool {
	if chatID == "" {
		return false
	}
	return slices.ContainsFunc(h.rooms.Members(chatID), func(s presence.Session) bool {
		return s.ID() == c.ID()
	})
}
