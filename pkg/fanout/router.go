package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/mahaj/snappy-realtime/pkg/presence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrMissingChat = errors.New("event has no chat members")

// DefaultRecentSize is how many routed message ids the router remembers.
const DefaultRecentSize = 4096

// Directory resolves a user to its live sessions.
type Directory interface {
	Sessions(user string) []presence.Session
}

// Delivery is one (session, event) pair of a fanout batch.
type Delivery struct {
	Session presence.Session
	Event   model.Event
}

// Router delivers new messages to every live session of every chat member
// except the sender. Each fanout is planned as an ordered batch and sent
// while holding the router lock, so per-session order follows Route order.
type Router struct {
	dir Directory
	log *slog.Logger

	mu     sync.Mutex
	recent *recentSet

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
	skipped   metric.Int64Counter
	batchSize metric.Int64Histogram
}

func NewRouter(dir Directory, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	meter := otel.Meter("snappy-realtime/fanout")
	delivered, _ := meter.Int64Counter("fanout_deliveries_total",
		metric.WithDescription("Events accepted by a session"))
	dropped, _ := meter.Int64Counter("fanout_dropped_total",
		metric.WithDescription("Events a session could not accept"))
	skipped, _ := meter.Int64Counter("fanout_duplicates_total",
		metric.WithDescription("Messages already routed"))
	batchSize, _ := meter.Int64Histogram("fanout_batch_size",
		metric.WithDescription("Deliveries per fanout"))

	return &Router{
		dir:       dir,
		log:       log.With("component", "router"),
		recent:    newRecentSet(DefaultRecentSize),
		delivered: delivered,
		dropped:   dropped,
		skipped:   skipped,
		batchSize: batchSize,
	}
}

// Plan builds the ordered delivery batch for msg: members in chat order,
// each member's sessions in id order, the sender's sessions left out.
// Members with no live session contribute nothing.
func (r *Router) Plan(msg model.ChatMessage) ([]Delivery, error) {
	if len(msg.Chat.Members) == 0 {
		return nil, fmt.Errorf("%w: message %s", ErrMissingChat, msg.ID)
	}
	ev, err := model.NewEvent(model.EventMessageReceived, msg)
	if err != nil {
		return nil, err
	}
	return r.plan(msg.Chat.Recipients(msg.SenderID), ev), nil
}

// Route plans and sends msg. A message id that was already routed is
// skipped, so a message the event bus redelivers reaches each session once.
// Callers pass only messages the API has stored. It returns the number of
// sessions that accepted the event.
func (r *Router) Route(ctx context.Context, msg model.ChatMessage) (int, error) {
	plan, err := r.Plan(msg)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID != "" && !r.recent.add(msg.ID) {
		r.skipped.Add(ctx, 1)
		r.log.Debug("message already routed", "message", msg.ID, "chat", msg.ChatID)
		return 0, nil
	}
	return r.send(ctx, plan, attribute.String("event", string(model.EventMessageReceived))), nil
}

// AnnounceGroup sends added-to-group to every member of a new group except
// its admin.
func (r *Router) AnnounceGroup(ctx context.Context, chat model.ChatSummary) (int, error) {
	if len(chat.Members) == 0 {
		return 0, fmt.Errorf("%w: chat %s", ErrMissingChat, chat.ID)
	}
	ev, err := model.NewEvent(model.EventAddedToGroup, chat)
	if err != nil {
		return 0, err
	}
	plan := r.plan(chat.Recipients(chat.AdminID), ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.send(ctx, plan, attribute.String("event", string(model.EventAddedToGroup))), nil
}

func (r *Router) plan(users []string, ev model.Event) []Delivery {
	var out []Delivery
	for _, u := range users {
		for _, s := range r.dir.Sessions(u) {
			out = append(out, Delivery{Session: s, Event: ev})
		}
	}
	return out
}

func (r *Router) send(ctx context.Context, plan []Delivery, attr attribute.KeyValue) int {
	opt := metric.WithAttributes(attr)
	r.batchSize.Record(ctx, int64(len(plan)), opt)
	sent := 0
	for _, d := range plan {
		if d.Session.Send(d.Event) {
			sent++
			continue
		}
		r.dropped.Add(ctx, 1, opt)
		r.log.Warn("delivery dropped", "session", d.Session.ID(), "event", d.Event.Name)
	}
	r.delivered.Add(ctx, int64(sent), opt)
	return sent
}

// recentSet is a fixed-size FIFO set of ids.
type recentSet struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecentSet(size int) *recentSet {
	return &recentSet{ids: make(map[string]struct{}, size), ring: make([]string, size)}
}

// add reports false if id is already present.
func (s *recentSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}
