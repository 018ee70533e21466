package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/momo-scheduler/momo/momoerrors"
)

const (
	redisScheduleKeyPrefix   = "momo:schedule:"
	redisExecutionsKeyPrefix = "momo:executions:"
	redisScheduleIndexPrefix = "momo:schedules:"
)

// RedisExecutionsRepo implements the executions ledger on Redis. Each
// schedule instance is a hash (momo:schedule:<id>) holding its name and
// timestamps, indexed per logical name by a set (momo:schedules:<name>).
// Per-job running counts live in a separate hash (momo:executions:<id>)
// so HINCRBY keeps the counters atomic.
//
// Election and dead-entry sweeps read all entries of a name and decide
// client-side; the ledger is small (one entry per process) so the extra
// round trips are negligible.
type RedisExecutionsRepo struct {
	client       redis.UniversalClient
	timeProvider TimeProvider
}

// NewRedisExecutionsRepo creates a new RedisExecutionsRepo with the given
// Redis client.
func NewRedisExecutionsRepo(client redis.UniversalClient) *RedisExecutionsRepo {
	return &RedisExecutionsRepo{
		client:       client,
		timeProvider: &RealTimeProvider{},
	}
}

// NewRedisExecutionsRepoWithTimeProvider creates a RedisExecutionsRepo with a
// custom TimeProvider.
func NewRedisExecutionsRepoWithTimeProvider(client redis.UniversalClient, tp TimeProvider) *RedisExecutionsRepo {
	return &RedisExecutionsRepo{client: client, timeProvider: tp}
}

func scheduleKey(scheduleID string) string   { return redisScheduleKeyPrefix + scheduleID }
func executionsKey(scheduleID string) string { return redisExecutionsKeyPrefix + scheduleID }
func scheduleIndexKey(name string) string    { return redisScheduleIndexPrefix + name }

// AddSchedule registers a schedule instance under the given logical name.
// Re-registering an existing scheduleID is a no-op.
func (r *RedisExecutionsRepo) AddSchedule(ctx context.Context, scheduleID, name string) error {
	now := strconv.FormatInt(r.timeProvider.Now().UnixNano(), 10)

	created, err := r.client.HSetNX(ctx, scheduleKey(scheduleID), "registered_at", now).Result()
	if err != nil {
		return fmt.Errorf("redis hsetnx: %w", err)
	}
	if !created {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, scheduleKey(scheduleID), "name", name, "last_alive", now)
	pipe.SAdd(ctx, scheduleIndexKey(name), scheduleID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis register schedule: %w", err)
	}
	return nil
}

type redisEntry struct {
	scheduleID   string
	registeredAt time.Time
	lastAlive    time.Time
}

// entriesFor loads all ledger entries registered under name. IDs whose hash
// is gone (swept by a peer) are dropped from the index on the way.
func (r *RedisExecutionsRepo) entriesFor(ctx context.Context, name string) ([]redisEntry, error) {
	ids, err := r.client.SMembers(ctx, scheduleIndexKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	entries := make([]redisEntry, 0, len(ids))
	for _, id := range ids {
		fields, err := r.client.HMGet(ctx, scheduleKey(id), "registered_at", "last_alive").Result()
		if err != nil {
			return nil, fmt.Errorf("redis hmget: %w", err)
		}
		registeredAt, okReg := parseRedisTime(fields[0])
		lastAlive, okAlive := parseRedisTime(fields[1])
		if !okReg || !okAlive {
			// Stale index member; the entry hash no longer exists.
			_ = r.client.SRem(ctx, scheduleIndexKey(name), id).Err()
			continue
		}
		entries = append(entries, redisEntry{
			scheduleID:   id,
			registeredAt: registeredAt,
			lastAlive:    lastAlive,
		})
	}
	return entries, nil
}

func parseRedisTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// IsActiveSchedule reports whether scheduleID is the active holder of name,
// with the same election rule as the Postgres ledger: earliest registration
// among live entries wins, ties broken by lexicographic scheduleID, and the
// caller claims a fully-stale name by refreshing its own heartbeat.
func (r *RedisExecutionsRepo) IsActiveSchedule(
	ctx context.Context,
	scheduleID, name string,
	deadAfter time.Duration,
) (bool, error) {
	if err := r.AddSchedule(ctx, scheduleID, name); err != nil {
		return false, err
	}

	entries, err := r.entriesFor(ctx, name)
	if err != nil {
		return false, err
	}

	cutoff := r.timeProvider.Now().Add(-deadAfter)
	var winner *redisEntry
	for i := range entries {
		e := &entries[i]
		if !e.lastAlive.After(cutoff) {
			continue
		}
		if winner == nil || e.registeredAt.Before(winner.registeredAt) ||
			(e.registeredAt.Equal(winner.registeredAt) && e.scheduleID < winner.scheduleID) {
			winner = e
		}
	}
	if winner == nil {
		if err := r.Ping(ctx, scheduleID); err != nil {
			return false, err
		}
		return true, nil
	}
	return winner.scheduleID == scheduleID, nil
}

// Ping refreshes the heartbeat of scheduleID.
func (r *RedisExecutionsRepo) Ping(ctx context.Context, scheduleID string) error {
	now := strconv.FormatInt(r.timeProvider.Now().UnixNano(), 10)
	if err := r.client.HSet(ctx, scheduleKey(scheduleID), "last_alive", now).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Remove deletes the ledger entry of scheduleID.
func (r *RedisExecutionsRepo) Remove(ctx context.Context, scheduleID string) error {
	name, err := r.client.HGet(ctx, scheduleKey(scheduleID), "name").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis hget: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, scheduleKey(scheduleID), executionsKey(scheduleID))
	if name != "" {
		pipe.SRem(ctx, scheduleIndexKey(name), scheduleID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis remove schedule: %w", err)
	}
	return nil
}

// RemoveDead deletes entries under name whose heartbeat is older than
// olderThan, returning how many were deleted.
func (r *RedisExecutionsRepo) RemoveDead(ctx context.Context, name string, olderThan time.Time) (int, error) {
	entries, err := r.entriesFor(ctx, name)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.lastAlive.Before(olderThan) {
			continue
		}
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, scheduleKey(e.scheduleID), executionsKey(e.scheduleID))
		pipe.SRem(ctx, scheduleIndexKey(name), e.scheduleID)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("redis remove dead schedule: %w", err)
		}
		removed++
	}
	return removed, nil
}

// IncrementExecution adds one to the running count scheduleID contributes
// for jobName.
func (r *RedisExecutionsRepo) IncrementExecution(ctx context.Context, scheduleID, jobName string) error {
	registered, err := r.client.Exists(ctx, scheduleKey(scheduleID)).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if registered == 0 {
		return momoerrors.Internalf("schedule %q not registered", scheduleID)
	}
	if err := r.client.HIncrBy(ctx, executionsKey(scheduleID), jobName, 1).Err(); err != nil {
		return fmt.Errorf("redis hincrby: %w", err)
	}
	return nil
}

// DecrementExecution removes one from the running count scheduleID
// contributes for jobName, flooring at zero.
func (r *RedisExecutionsRepo) DecrementExecution(ctx context.Context, scheduleID, jobName string) error {
	count, err := r.client.HIncrBy(ctx, executionsKey(scheduleID), jobName, -1).Result()
	if err != nil {
		return fmt.Errorf("redis hincrby: %w", err)
	}
	if count < 0 {
		if err := r.client.HSet(ctx, executionsKey(scheduleID), jobName, 0).Err(); err != nil {
			return fmt.Errorf("redis floor counter: %w", err)
		}
	}
	return nil
}

// CountRunning sums the running counts for jobName across entries whose
// heartbeat is within deadAfter. The ledger holds one index set per logical
// name, so the scan walks the name indexes via SCAN rather than KEYS.
func (r *RedisExecutionsRepo) CountRunning(ctx context.Context, jobName string, deadAfter time.Duration) (int, error) {
	cutoff := r.timeProvider.Now().Add(-deadAfter)
	total := 0

	iter := r.client.Scan(ctx, 0, redisScheduleIndexPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids, err := r.client.SMembers(ctx, iter.Val()).Result()
		if err != nil {
			return 0, fmt.Errorf("redis smembers: %w", err)
		}
		for _, id := range ids {
			aliveRaw, err := r.client.HGet(ctx, scheduleKey(id), "last_alive").Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return 0, fmt.Errorf("redis hget: %w", err)
			}
			lastAlive, ok := parseRedisTime(aliveRaw)
			if !ok || !lastAlive.After(cutoff) {
				continue
			}
			countRaw, err := r.client.HGet(ctx, executionsKey(id), jobName).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return 0, fmt.Errorf("redis hget: %w", err)
			}
			count, convErr := strconv.Atoi(countRaw)
			if convErr != nil {
				continue
			}
			total += count
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return total, nil
}
