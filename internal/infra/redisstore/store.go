// Package redisstore is a domain.ProgressStore on Redis. Counters and
// records live in per-user keys; every write publishes a change event on
// the user's channel so listeners in any process observe it.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/metrics"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

const (
	eventXP    = "xp"
	eventTasks = "tasks"
)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements domain.ProgressStore on Redis.
type Store struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

var _ domain.ProgressStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options, log *logger.Logger) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("%w: missing redis addr", domain.ErrInvalidArgument)
	}
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = "anuvruddhi"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", domain.ErrStoreUnavailable, err)
	}

	return &Store{
		log:    log.With("service", "RedisProgressStore"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

func (s *Store) key(userID, field string) string {
	return s.prefix + ":user:" + userID + ":" + field
}

func (s *Store) channel(userID string) string {
	return s.prefix + ":progress:" + userID
}

func storeErr(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: redis %s: %w", domain.ErrStoreUnavailable, op, err)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Close closes the client. Open subscriptions must be released first.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// ─── Cumulative XP ──────────────────────────────────────────────────────────

// CumulativeXP returns the user's XP total. Unknown users have 0.
func (s *Store) CumulativeXP(ctx context.Context, userID string) (int64, error) {
	xp, err := s.rdb.Get(ctx, s.key(userID, "xp")).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("read_xp", err)
	}
	return xp, nil
}

// AddXP increments the total with INCRBY and publishes the change.
func (s *Store) AddXP(ctx context.Context, userID string, delta int64) (int64, error) {
	if delta < 0 {
		return 0, fmt.Errorf("%w: xp delta must be >= 0, got %d", domain.ErrInvalidArgument, delta)
	}
	var incr *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.IncrBy(ctx, s.key(userID, "xp"), delta)
		p.Publish(ctx, s.channel(userID), eventXP)
		return nil
	})
	if err != nil {
		return 0, storeErr("add_xp", err)
	}
	return incr.Val(), nil
}

// ─── Last Completion ────────────────────────────────────────────────────────

// LastCompletion returns the most recently completed habit or task id.
func (s *Store) LastCompletion(ctx context.Context, userID string) (string, error) {
	id, err := s.rdb.Get(ctx, s.key(userID, "last")).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("read_last_completion", err)
	}
	return id, nil
}

// SetLastCompletion records habitID as the most recent completion.
func (s *Store) SetLastCompletion(ctx context.Context, userID, habitID string) error {
	if err := s.rdb.Set(ctx, s.key(userID, "last"), habitID, 0).Err(); err != nil {
		return storeErr("write_last_completion", err)
	}
	return nil
}

// ─── Milestone Ledger ───────────────────────────────────────────────────────

// ShownMilestones returns the announced milestone ids in marking order.
func (s *Store) ShownMilestones(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.rdb.ZRange(ctx, s.key(userID, "milestones"), 0, -1).Result()
	if err != nil {
		return nil, storeErr("read_ledger", err)
	}
	return ids, nil
}

// SetShownMilestone adds the marker with ZADD NX, so re-marking keeps the
// original position and is a no-op.
func (s *Store) SetShownMilestone(ctx context.Context, userID, milestoneID string) error {
	err := s.rdb.ZAddNX(ctx, s.key(userID, "milestones"), goredis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: milestoneID,
	}).Err()
	if err != nil {
		return storeErr("write_marker", err)
	}
	return nil
}

// ─── Task Records ───────────────────────────────────────────────────────────

// TaskRecords returns the user's tasks keyed by task id.
func (s *Store) TaskRecords(ctx context.Context, userID string) (map[string]domain.TaskRecord, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key(userID, "tasks")).Result()
	if err != nil {
		return nil, storeErr("read_tasks", err)
	}
	records := make(map[string]domain.TaskRecord, len(raw))
	for id, v := range raw {
		var r domain.TaskRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			s.log.Warn("bad task record", "user_id", userID, "task_id", id, "error", err)
			continue
		}
		records[id] = r
	}
	return records, nil
}

// PutTaskRecord stores one task and publishes the change.
func (s *Store) PutTaskRecord(ctx context.Context, userID, taskID string, rec domain.TaskRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, s.key(userID, "tasks"), taskID, raw)
		p.Publish(ctx, s.channel(userID), eventTasks)
		return nil
	})
	if err != nil {
		return storeErr("write_task", err)
	}
	return nil
}

// ─── Habit Streaks ──────────────────────────────────────────────────────────

// HabitStreaks returns the user's streaks keyed by habit id.
func (s *Store) HabitStreaks(ctx context.Context, userID string) (map[string]domain.Streak, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key(userID, "streaks")).Result()
	if err != nil {
		return nil, storeErr("read_streaks", err)
	}
	streaks := make(map[string]domain.Streak, len(raw))
	for id, v := range raw {
		var st domain.Streak
		if err := json.Unmarshal([]byte(v), &st); err != nil {
			s.log.Warn("bad streak record", "user_id", userID, "habit_id", id, "error", err)
			continue
		}
		streaks[id] = st
	}
	return streaks, nil
}

// PutHabitStreak stores one habit streak.
func (s *Store) PutHabitStreak(ctx context.Context, userID string, st domain.Streak) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.key(userID, "streaks"), st.HabitID, raw).Err(); err != nil {
		return storeErr("write_streak", err)
	}
	return nil
}

// ─── Subscriptions ──────────────────────────────────────────────────────────

// OnCumulativeXPChange subscribes to the user's channel, then delivers the
// current total and a freshly read total after every published XP change.
func (s *Store) OnCumulativeXPChange(ctx context.Context, userID string, fn func(int64)) (domain.Unsubscribe, error) {
	return s.subscribe(ctx, userID, eventXP, func(ctx context.Context) error {
		xp, err := s.CumulativeXP(ctx, userID)
		if err != nil {
			return err
		}
		fn(xp)
		return nil
	})
}

// OnTaskRecordsChange is the task-record counterpart of OnCumulativeXPChange.
func (s *Store) OnTaskRecordsChange(ctx context.Context, userID string, fn func(map[string]domain.TaskRecord)) (domain.Unsubscribe, error) {
	return s.subscribe(ctx, userID, eventTasks, func(ctx context.Context) error {
		records, err := s.TaskRecords(ctx, userID)
		if err != nil {
			return err
		}
		fn(records)
		return nil
	})
}

// subscribe starts a forwarder that calls deliver once immediately and then
// for every message equal to event. Messages are handled one at a time, in
// the order Redis published them.
func (s *Store) subscribe(ctx context.Context, userID, event string, deliver func(context.Context) error) (domain.Unsubscribe, error) {
	sub := s.rdb.Subscribe(ctx, s.channel(userID))

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, storeErr("subscribe", err)
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	ch := sub.Channel()

	go func() {
		if err := s.safeDeliver(fwdCtx, deliver); err != nil {
			s.log.Warn("initial delivery failed", "user_id", userID, "event", event, "error", err)
		}
		for {
			select {
			case <-fwdCtx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				if m.Payload != event {
					continue
				}
				if err := s.safeDeliver(fwdCtx, deliver); err != nil {
					s.log.Warn("change delivery failed", "user_id", userID, "event", event, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = sub.Close()
		})
	}, nil
}

func (s *Store) safeDeliver(ctx context.Context, deliver func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return deliver(ctx)
}
