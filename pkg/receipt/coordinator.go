// Package receipt keeps unread counters and read sets consistent with
// new messages and mark-read actions.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/mahaj/snappy-realtime/pkg/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var ErrPartialRead = errors.New("mark read partially applied")

const lockStripes = 64

// Notifier publishes messages-read once a mark-read is durable.
type Notifier interface {
	MessagesRead(ctx context.Context, p model.MessagesReadPayload) error
}

type Config struct {
	// Retries is how many extra attempts each read-set update gets.
	Retries int
	Backoff time.Duration
}

// Result describes what a MarkRead call changed.
type Result struct {
	Updated int   // messages whose read set gained the reader
	Cleared int64 // unread count before the reset
	// ReadAt is the newest message the call marked. It is zero when only
	// the counter changed, and never covers a message stored after the
	// unread list was taken.
	ReadAt    time.Time
	Broadcast bool
}

// Coordinator applies new-message and mark-read effects to the counters.
// Calls for the same (chat, user) pair are serialized.
type Coordinator struct {
	counters store.Counters
	notifier Notifier
	cfg      Config
	log      *slog.Logger

	stripes [lockStripes]sync.Mutex

	increments metric.Int64Counter
	markReads  metric.Int64Counter
	failures   metric.Int64Counter
}

func NewCoordinator(counters store.Counters, notifier Notifier, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	meter := otel.Meter("snappy-realtime/receipt")
	increments, _ := meter.Int64Counter("receipt_unread_increments_total",
		metric.WithDescription("Unread counter increments"))
	markReads, _ := meter.Int64Counter("receipt_mark_reads_total",
		metric.WithDescription("Mark-read calls that changed state"))
	failures, _ := meter.Int64Counter("receipt_failures_total",
		metric.WithDescription("Counter or read-set writes that failed"))

	return &Coordinator{
		counters:   counters,
		notifier:   notifier,
		cfg:        cfg,
		log:        log.With("component", "receipt"),
		increments: increments,
		markReads:  markReads,
		failures:   failures,
	}
}

// RecordMessage adds one to the unread count of every member except the
// sender. Members who have the chat open are counted too; their client
// clears it with a mark-read.
func (c *Coordinator) RecordMessage(ctx context.Context, msg model.ChatMessage) error {
	var errs []error
	for _, u := range msg.Chat.Recipients(msg.SenderID) {
		counted, err := c.increment(ctx, msg.Message, u)
		if err != nil {
			c.failures.Add(ctx, 1)
			errs = append(errs, err)
			continue
		}
		if counted {
			c.increments.Add(ctx, 1)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("record message %s: %w", msg.ID, err)
	}
	return nil
}

// increment runs under the same stripe as MarkRead, so a reset never
// swallows it. A mark-read that already listed the stored message has
// covered it and nothing is counted.
func (c *Coordinator) increment(ctx context.Context, msg model.Message, user string) (bool, error) {
	mu := c.stripe(msg.ChatID, user)
	mu.Lock()
	defer mu.Unlock()

	stored, err := c.counters.GetMessage(ctx, msg.ChatID, msg.ID)
	switch {
	case err == nil && stored.IsReadBy(user):
		return false, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return false, err
	}
	if err := c.counters.IncrementUnread(ctx, msg.ChatID, user); err != nil {
		return false, err
	}
	return true, nil
}

// MarkRead adds user to the read set of every message in the chat it has not
// read and did not send, then resets its unread count and notifies. Each
// read-set update is retried on its own. If any still fails the counter is
// left alone and ErrPartialRead is returned; calling again finishes the job.
// A call that finds nothing to do does not notify.
func (c *Coordinator) MarkRead(ctx context.Context, chatID, user string) (Result, error) {
	mu := c.stripe(chatID, user)
	mu.Lock()
	defer mu.Unlock()

	unread, err := c.counters.UnreadMessages(ctx, chatID, user)
	if err != nil {
		return Result{}, fmt.Errorf("mark read %s/%s: %w", chatID, user, err)
	}

	var res Result
	var errs []error
	for _, m := range unread {
		if err := c.addReader(ctx, chatID, m.ID, user); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Updated++
		if m.CreatedAt.After(res.ReadAt) {
			res.ReadAt = m.CreatedAt.UTC()
		}
	}
	if len(errs) > 0 {
		c.failures.Add(ctx, int64(len(errs)))
		return res, fmt.Errorf("%w: %d of %d messages in chat %s: %w",
			ErrPartialRead, len(errs), len(unread), chatID, errors.Join(errs...))
	}

	res.Cleared, err = c.counters.ResetUnread(ctx, chatID, user)
	if err != nil {
		c.failures.Add(ctx, 1)
		return res, fmt.Errorf("mark read %s/%s: %w", chatID, user, err)
	}
	if res.Updated == 0 && res.Cleared == 0 {
		return res, nil
	}

	c.markReads.Add(ctx, 1)
	if c.notifier == nil {
		return res, nil
	}
	err = c.notifier.MessagesRead(ctx, model.MessagesReadPayload{ChatID: chatID, ReadByUserID: user, ReadAt: res.ReadAt})
	if err != nil {
		c.log.Warn("messages-read not published", "chat", chatID, "user", user, "error", err)
		return res, nil
	}
	res.Broadcast = true
	return res, nil
}

func (c *Coordinator) addReader(ctx context.Context, chatID, messageID, user string) error {
	var err error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.Backoff * time.Duration(attempt)):
			}
		}
		if err = c.counters.AddReader(ctx, chatID, messageID, user); err == nil {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			// Deleted since it was listed.
			return nil
		}
	}
	return err
}

func (c *Coordinator) stripe(chatID, user string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	h.Write([]byte{0})
	h.Write([]byte(user))
	return &c.stripes[h.Sum32()%lockStripes]
}
