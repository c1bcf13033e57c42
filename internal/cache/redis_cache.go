package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/model"
)

// saveDraftScript stores a draft and returns its version: the save time in
// microseconds, bumped past the previous version so it always increases.
// KEYS: version key, draft key. ARGV: micros, draft JSON, ttl in ms.
var saveDraftScript = redis.NewScript(`
local prev = tonumber(redis.call('GET', KEYS[1]) or '0')
local v = tonumber(ARGV[1])
if v <= prev then v = prev + 1 end
redis.call('SET', KEYS[1], v, 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return v
`)

// RedisCache keeps attempt snapshots, autosaved drafts, job queues and the
// per-activity monitor channel in Redis. PostgreSQL stays the source of truth.
type RedisCache struct {
	rdb    *redis.Client
	maxTTL time.Duration
}

// NewRedisCache creates a RedisCache. maxTTL bounds every snapshot lifetime.
func NewRedisCache(rdb *redis.Client, maxTTL time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, maxTTL: maxTTL}
}

// Ping reports whether Redis is reachable. Used by the health check.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetSession returns the cached snapshot, or nil on a cache miss.
func (c *RedisCache) GetSession(ctx context.Context, sessionID uuid.UUID) (*model.AttemptSession, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.AttemptSessionKey(sessionID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session snapshot: %w", err)
	}

	var s model.AttemptSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	return &s, nil
}

// SetSession caches an in-progress snapshot until ttl elapses.
func (c *RedisCache) SetSession(ctx context.Context, s *model.AttemptSession, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, config.CacheKey.AttemptSessionKey(s.ID.String()), raw, c.clampTTL(ttl)).Err()
}

// Evict drops the snapshot and draft of a finalized session.
func (c *RedisCache) Evict(ctx context.Context, sessionID uuid.UUID) error {
	id := sessionID.String()
	return c.rdb.Del(ctx,
		config.CacheKey.AttemptSessionKey(id),
		config.CacheKey.AttemptDraftKey(id),
		config.CacheKey.AttemptDraftVersionKey(id),
	).Err()
}

// SaveDraft stores the latest autosaved answers and returns the draft's
// version. Versions of one session strictly increase.
func (c *RedisCache) SaveDraft(ctx context.Context, sessionID uuid.UUID, answers []model.Answer, at time.Time, ttl time.Duration) (int64, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return 0, err
	}
	id := sessionID.String()
	v, err := saveDraftScript.Run(ctx, c.rdb,
		[]string{config.CacheKey.AttemptDraftVersionKey(id), config.CacheKey.AttemptDraftKey(id)},
		at.UnixMicro(), raw, c.clampTTL(ttl).Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("save draft: %w", err)
	}
	return v, nil
}

// Draft returns the autosaved answers, or nil when none are cached.
func (c *RedisCache) Draft(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.AttemptDraftKey(sessionID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}

	var answers []model.Answer
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return answers, nil
}

// Enqueue pushes a JSON job onto a worker queue.
func (c *RedisCache) Enqueue(ctx context.Context, queue string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.rdb.RPush(ctx, queue, raw).Err()
}

// Publish sends an attempt event to the activity's monitor channel.
func (c *RedisCache) Publish(ctx context.Context, activityID uuid.UUID, ev model.AttemptEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, config.CacheKey.ActivityMonitorChannel(activityID.String()), raw).Err()
}

// Subscribe attaches to the activity's monitor channel. Callers must Close it.
func (c *RedisCache) Subscribe(ctx context.Context, activityID uuid.UUID) *redis.PubSub {
	return c.rdb.Subscribe(ctx, config.CacheKey.ActivityMonitorChannel(activityID.String()))
}

func (c *RedisCache) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = time.Second
	}
	if c.maxTTL > 0 && ttl > c.maxTTL {
		return c.maxTTL
	}
	return ttl
}

// Pop blocks up to timeout for the next job on queue. It returns nil, nil
// when the queue stayed empty.
func (c *RedisCache) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := c.rdb.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// TryPop takes the next job without blocking, or nil when empty.
func (c *RedisCache) TryPop(ctx context.Context, queue string) ([]byte, error) {
	raw, err := c.rdb.LPop(ctx, queue).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return raw, err
}

// Requeue pushes a raw job back for another attempt.
func (c *RedisCache) Requeue(ctx context.Context, queue string, raw []byte) error {
	return c.rdb.RPush(ctx, queue, raw).Err()
}
