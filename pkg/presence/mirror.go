package presence

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// OnlineKey is the Redis set holding the users online on the gateway.
const OnlineKey = "presence:online"

// ResyncInterval is how often a stale mirror is rebuilt when no registry
// change wakes it first.
const ResyncInterval = 2 * time.Second

// RedisMirror copies registry transitions into a Redis set so processes
// without sessions (the API) can answer online-user queries.
type RedisMirror struct {
	rdb *redis.Client
	key string
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb, key: OnlineKey}
}

// Reset drops state left by a previous gateway run. Presence is never
// carried across a restart.
func (m *RedisMirror) Reset(ctx context.Context) error {
	if err := m.rdb.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("reset presence mirror: %w", err)
	}
	return nil
}

// Apply writes transitions in order inside one MULTI/EXEC.
func (m *RedisMirror) Apply(ctx context.Context, ts []Transition) error {
	if len(ts) == 0 {
		return nil
	}
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range ts {
			if t.Online {
				pipe.SAdd(ctx, m.key, t.UserID)
			} else {
				pipe.SRem(ctx, m.key, t.UserID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %d presence transitions: %w", len(ts), err)
	}
	return nil
}

// OnlineUsers returns the mirrored online set, sorted.
func (m *RedisMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := m.rdb.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence mirror: %w", err)
	}
	slices.Sort(users)
	return users, nil
}

// IsOnline reports whether user is in the mirrored online set.
func (m *RedisMirror) IsOnline(ctx context.Context, user string) (bool, error) {
	ok, err := m.rdb.SIsMember(ctx, m.key, user).Result()
	if err != nil {
		return false, fmt.Errorf("read presence mirror: %w", err)
	}
	return ok, nil
}

// RunMirror feeds registry transitions to m until ctx is done. A failed
// batch is logged and the mirror is rebuilt from the registry, on the next
// wake-up or every ResyncInterval, until a rebuild succeeds.
func (r *Registry) RunMirror(ctx context.Context, m *RedisMirror) {
	r.runMirror(ctx, m, ResyncInterval)
}

func (r *Registry) runMirror(ctx context.Context, m *RedisMirror, every time.Duration) {
	r.mu.Lock()
	r.mirrored = true
	r.mu.Unlock()

	retry := time.NewTicker(every)
	retry.Stop()
	defer retry.Stop()

	stale := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-retry.C:
		}

		batch := r.drain()
		if stale {
			if err := r.resync(ctx, m); err != nil {
				r.log.Error("presence mirror resync failed", "error", err)
				continue
			}
			stale = false
			retry.Stop()
			continue
		}
		if err := m.Apply(ctx, batch); err != nil {
			r.log.Error("presence mirror update failed", "error", err, "transitions", len(batch))
			stale = true
			retry.Reset(every)
		}
	}
}

// resync replaces the mirrored set with the registry's current view.
func (r *Registry) resync(ctx context.Context, m *RedisMirror) error {
	online := r.OnlineUsers()
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.key)
		if len(online) > 0 {
			members := make([]any, len(online))
			for i, u := range online {
				members[i] = u
			}
			pipe.SAdd(ctx, m.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resync presence mirror: %w", err)
	}
	return nil
}
