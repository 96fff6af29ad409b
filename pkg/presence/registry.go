package presence

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mahaj/snappy-realtime/pkg/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Session is one live connection. Send must not block; it reports false
// when the event was dropped.
type Session interface {
	ID() string
	Send(ev model.Event) bool
}

// Transition is a user going online or offline on this process.
type Transition struct {
	UserID string
	Online bool
}

// Registry maps users to their live sessions. A user is online iff it has an
// entry, and an entry is removed when its last session leaves.
type Registry struct {
	mu     sync.Mutex
	users  map[string]map[string]Session // user → session id → session
	owners map[string]string             // session id → user

	mirrored bool
	pending  []Transition
	wake     chan struct{}

	log         *slog.Logger
	joins       metric.Int64Counter
	leaves      metric.Int64Counter
	onlineGauge metric.Int64UpDownCounter
	dropped     metric.Int64Counter
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	meter := otel.Meter("snappy-realtime/presence")
	joins, _ := meter.Int64Counter("presence_joins_total",
		metric.WithDescription("Sessions that completed setup"))
	leaves, _ := meter.Int64Counter("presence_leaves_total",
		metric.WithDescription("Joined sessions that disconnected"))
	online, _ := meter.Int64UpDownCounter("presence_online_users",
		metric.WithDescription("Users with at least one live session"))
	dropped, _ := meter.Int64Counter("presence_events_dropped_total",
		metric.WithDescription("Presence events a session could not accept"))

	return &Registry{
		users:       make(map[string]map[string]Session),
		owners:      make(map[string]string),
		wake:        make(chan struct{}, 1),
		log:         log.With("component", "presence"),
		joins:       joins,
		leaves:      leaves,
		onlineGauge: online,
		dropped:     dropped,
	}
}

// Join adds s to user's sessions. On the first session for user, user-online
// goes to every joined session. The joining session always receives the
// current online list. It reports whether user came online.
//
// Joining again as the same user is a no-op apart from the list. Joining as a
// different user moves the session, which may take the old user offline.
func (r *Registry) Join(user string, s Session) bool {
	if user == "" || s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[s.ID()]; ok && prev != user {
		r.leaveLocked(s.ID())
	}

	came := false
	set, ok := r.users[user]
	if !ok {
		set = make(map[string]Session)
		r.users[user] = set
		came = true
	}
	if _, dup := set[s.ID()]; !dup {
		set[s.ID()] = s
		r.owners[s.ID()] = user
		r.joins.Add(context.Background(), 1)
	}

	if came {
		r.onlineGauge.Add(context.Background(), 1)
		r.broadcastLocked(model.MustEvent(model.EventUserOnline, user))
		r.queueLocked(Transition{UserID: user, Online: true})
		r.log.Info("user online", "user", user, "session", s.ID())
	}

	r.send(s, model.MustEvent(model.EventGetOnlineUsers, r.onlineLocked()))
	return came
}

// Leave removes the session. If it was its user's last, the entry is deleted
// and user-offline goes to the remaining sessions. Leaving a session that
// never joined is a no-op. It reports whether the user went offline.
func (r *Registry) Leave(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(sessionID)
}

func (r *Registry) leaveLocked(sessionID string) bool {
	user, ok := r.owners[sessionID]
	if !ok {
		return false
	}
	delete(r.owners, sessionID)
	r.leaves.Add(context.Background(), 1)

	set := r.users[user]
	delete(set, sessionID)
	if len(set) > 0 {
		return false
	}

	delete(r.users, user)
	r.onlineGauge.Add(context.Background(), -1)
	r.broadcastLocked(model.MustEvent(model.EventUserOffline, user))
	r.queueLocked(Transition{UserID: user, Online: false})
	r.log.Info("user offline", "user", user)
	return true
}

func (r *Registry) IsOnline(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[user]) > 0
}

// UserOf returns the user a session joined as.
func (r *Registry) UserOf(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.owners[sessionID]
	return u, ok
}

// OnlineUsers returns the online users in sorted order.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

// Sessions returns user's live sessions ordered by session id.
func (r *Registry) Sessions(user string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedSessions(r.users[user])
}

// All returns every joined session ordered by session id.
func (r *Registry) All() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.owners))
	for _, set := range r.users {
		for _, s := range set {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Session) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

func (r *Registry) onlineLocked() []string {
	out := make([]string, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// broadcastLocked runs under r.mu so that online and offline events for one
// user reach every session in transition order.
func (r *Registry) broadcastLocked(ev model.Event) {
	for _, set := range r.users {
		for _, s := range set {
			r.send(s, ev)
		}
	}
}

func (r *Registry) send(s Session, ev model.Event) {
	if !s.Send(ev) {
		r.dropped.Add(context.Background(), 1)
		r.log.Warn("presence event dropped", "session", s.ID(), "event", ev.Name)
	}
}

func (r *Registry) queueLocked(t Transition) {
	if !r.mirrored {
		return
	}
	r.pending = append(r.pending, t)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// drain returns and clears the transitions queued since the last call.
func (r *Registry) drain() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

func sortedSessions(set map[string]Session) []Session {
	if len(set) == 0 {
		return nil
	}
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Session) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}
