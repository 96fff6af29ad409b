package clientstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/model"
)

// API is the REST boundary the driver calls. Every mutation is durable
// before it returns.
type API interface {
	ListChats(ctx context.Context) ([]model.ChatListing, error)
	FetchMessages(ctx context.Context, chatID string) ([]model.Message, error)
	SendMessage(ctx context.Context, chatID string, body model.Body) (model.Message, error)
	MarkRead(ctx context.Context, chatID string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) (model.Message, error)
}

// Emitter writes an event to the real-time connection. It must be safe for
// concurrent use.
type Emitter interface {
	Emit(ev model.Event) error
}

// Hider is the device-local hidden-message set.
type Hider interface {
	Hidden
	Hide(messageID string) error
}

// Command is a local user action.
type Command interface {
	apply(ctx context.Context, d *Driver)
}

type (
	Open              struct{ ChatID string }
	Send              struct{ Body model.Body }
	Keystroke         struct{}
	Hide              struct{ MessageID string }
	DeleteForEveryone struct{ MessageID string }
	// Resync re-subscribes and re-fetches after the connection came back.
	Resync struct{}
)

type DriverConfig struct {
	TypingTimeout time.Duration
	// OnChange runs on the driver goroutine after every step.
	OnChange func(*State)
}

// Driver owns a State and runs every input against it on one goroutine:
// pushed events, local commands and the completions of round trips. Round
// trips run in the background so the timeline never blocks on the network.
type Driver struct {
	state  *State
	api    API
	emit   Emitter
	hidden Hider
	typist *Typist
	log    *slog.Logger
	cfg    DriverConfig

	events   chan model.Event
	commands chan Command
	results  chan func(ctx context.Context)

	wg sync.WaitGroup
}

func NewDriver(me string, api API, emit Emitter, hidden Hider, cfg DriverConfig, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	d := &Driver{
		state:    New(me, cfg.TypingTimeout),
		api:      api,
		emit:     emit,
		hidden:   hidden,
		log:      log.With("component", "clientstate", "user", me),
		cfg:      cfg,
		events:   make(chan model.Event, 256),
		commands: make(chan Command, 64),
		results:  make(chan func(ctx context.Context), 64),
	}
	d.typist = NewTypist(cfg.TypingTimeout, func(ev model.Event) { d.send(ev) })
	return d
}

// Deliver queues a pushed event. It blocks only if the driver is far behind.
func (d *Driver) Deliver(ctx context.Context, ev model.Event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

// Do queues a local command.
func (d *Driver) Do(ctx context.Context, cmd Command) {
	select {
	case d.commands <- cmd:
	case <-ctx.Done():
	}
}

// Inspect runs fn against the state on the driver goroutine and waits for it.
func (d *Driver) Inspect(ctx context.Context, fn func(*State)) error {
	done := make(chan struct{})
	step := func(context.Context) {
		fn(d.state)
		close(done)
	}
	select {
	case d.results <- step:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loads the chat list and processes inputs until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	defer d.wg.Wait()
	defer d.typist.Stop()

	d.loadChats(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.events:
			d.handle(ctx, ev)
		case cmd := <-d.commands:
			cmd.apply(ctx, d)
		case step := <-d.results:
			step(ctx)
		}
		if d.cfg.OnChange != nil {
			d.cfg.OnChange(d.state)
		}
	}
}

func (d *Driver) handle(ctx context.Context, ev model.Event) {
	switch ev.Name {
	case model.EventGetOnlineUsers:
		var users []string
		if d.decode(ev, &users) {
			d.state.SetOnlineUsers(users)
		}
	case model.EventUserOnline, model.EventUserOffline:
		var user string
		if !d.decode(ev, &user) {
			return
		}
		if ev.Name == model.EventUserOnline {
			d.state.UserOnline(user)
		} else {
			d.state.UserOffline(user)
		}
	case model.EventMessageReceived, model.EventNewMessage:
		msg, err := ev.DecodeChatMessage()
		if err != nil {
			d.drop(ev, err)
			return
		}
		outcome, effects := d.state.ReceiveMessage(msg)
		if outcome == Duplicate || outcome == SelfEcho {
			d.log.Debug("message not applied", "message", msg.ID, "outcome", outcome)
		}
		d.run(ctx, effects)
	case model.EventMessagesRead:
		var p model.MessagesReadPayload
		if d.decode(ev, &p) {
			d.state.MessagesRead(p)
		}
	case model.EventMessageDeleted:
		var p model.MessageDeletedPayload
		if d.decode(ev, &p) && p.MessageID != "" {
			d.state.MessageDeleted(p.MessageID)
		}
	case model.EventTyping, model.EventStopTyping:
		chatID, err := ev.DecodeChatID()
		if err != nil {
			d.drop(ev, err)
			return
		}
		if ev.Name == model.EventTyping {
			d.state.Typing(chatID)
		} else {
			d.state.StopTyping(chatID)
		}
	case model.EventAddedToGroup, model.EventNewGroup:
		var chat model.ChatSummary
		if d.decode(ev, &chat) && chat.ID != "" {
			d.state.AddedToGroup(chat)
		}
	default:
		d.log.Debug("ignoring event", "event", ev.Name)
	}
}

func (d *Driver) decode(ev model.Event, v any) bool {
	if err := ev.Decode(v); err != nil {
		d.drop(ev, err)
		return false
	}
	return true
}

func (d *Driver) drop(ev model.Event, err error) {
	d.log.Warn("dropping malformed event", "event", ev.Name, "error", err)
}

func (d *Driver) run(ctx context.Context, effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectJoinChat:
			d.send(model.MustEvent(model.EventJoinChat, e.ChatID))
		case EffectFetchMessages:
			d.fetch(ctx, e.ChatID)
		case EffectMarkRead:
			d.markRead(ctx, e.ChatID)
		case EffectPostMessage:
			d.post(ctx, e)
		}
	}
}

func (d *Driver) loadChats(ctx context.Context) {
	d.async(ctx, func(ctx context.Context) func(context.Context) {
		chats, err := d.api.ListChats(ctx)
		return func(context.Context) {
			if err != nil {
				d.log.Error("list chats failed", "error", err)
				return
			}
			d.state.LoadChats(chats)
		}
	})
}

func (d *Driver) fetch(ctx context.Context, chatID string) {
	d.async(ctx, func(ctx context.Context) func(context.Context) {
		msgs, err := d.api.FetchMessages(ctx, chatID)
		return func(ctx context.Context) {
			if err != nil {
				d.log.Error("fetch messages failed", "chat", chatID, "error", err)
				return
			}
			d.run(ctx, d.state.ApplySnapshot(chatID, msgs))
		}
	})
}

// markRead is fire-and-forget. A failure leaves the server count non-zero
// until the next successful mark-read.
func (d *Driver) markRead(ctx context.Context, chatID string) {
	d.async(ctx, func(ctx context.Context) func(context.Context) {
		err := d.api.MarkRead(ctx, chatID)
		return func(context.Context) {
			if err != nil {
				d.log.Warn("mark read failed", "chat", chatID, "error", err)
			}
		}
	})
}

func (d *Driver) post(ctx context.Context, e Effect) {
	d.async(ctx, func(ctx context.Context) func(context.Context) {
		msg, err := d.api.SendMessage(ctx, e.ChatID, e.Body)
		return func(context.Context) {
			if err != nil {
				d.log.Error("send failed", "chat", e.ChatID, "temp_id", e.TempID, "error", err)
				d.state.FailSend(e.TempID)
				return
			}
			d.state.ConfirmSend(e.TempID, msg)
		}
	})
}

// async runs call off the timeline and queues the step it returns.
func (d *Driver) async(ctx context.Context, call func(context.Context) func(context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		step := call(ctx)
		select {
		case d.results <- step:
		case <-ctx.Done():
		}
	}()
}

func (d *Driver) send(ev model.Event) {
	if err := d.emit.Emit(ev); err != nil {
		d.log.Warn("emit failed", "event", ev.Name, "error", err)
	}
}

func (c Open) apply(ctx context.Context, d *Driver) {
	d.typist.Stop()
	d.run(ctx, d.state.OpenChat(c.ChatID))
}

func (c Send) apply(ctx context.Context, d *Driver) {
	d.typist.Stop()
	_, effects := d.state.BeginSend(c.Body)
	d.run(ctx, effects)
}

func (Keystroke) apply(_ context.Context, d *Driver) {
	d.typist.Keystroke(d.state.OpenID())
}

func (c Hide) apply(_ context.Context, d *Driver) {
	if d.hidden == nil {
		return
	}
	if err := d.hidden.Hide(c.MessageID); err != nil {
		d.log.Error("hide failed", "message", c.MessageID, "error", err)
	}
}

func (c DeleteForEveryone) apply(ctx context.Context, d *Driver) {
	chatID := d.state.OpenID()
	if chatID == "" {
		return
	}
	d.async(ctx, func(ctx context.Context) func(context.Context) {
		_, err := d.api.DeleteMessage(ctx, chatID, c.MessageID)
		return func(context.Context) {
			if err != nil {
				d.log.Error("delete failed", "chat", chatID, "message", c.MessageID, "error", err)
				return
			}
			d.state.MessageDeleted(c.MessageID)
		}
	})
}

func (Resync) apply(ctx context.Context, d *Driver) {
	d.loadChats(ctx)
	if chatID := d.state.OpenID(); chatID != "" {
		d.send(model.MustEvent(model.EventJoinChat, chatID))
		d.fetch(ctx, chatID)
	}
}
