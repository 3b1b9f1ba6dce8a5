package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// channelSnapshotKey holds the serialized channel registry snapshot used to
// warm the config cache on process start.
const channelSnapshotKey = "channels:snapshot"

// RedisStore wraps a redis client and context for operations.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// SaveChannelSnapshot stores the serialized channel registry snapshot.
func (r *RedisStore) SaveChannelSnapshot(data []byte) error {
	return r.Client.Set(r.Ctx, channelSnapshotKey, data, 0).Err()
}

// LoadChannelSnapshot returns the last persisted channel snapshot, or nil when
// none has been saved yet.
func (r *RedisStore) LoadChannelSnapshot() ([]byte, error) {
	data, err := r.Client.Get(r.Ctx, channelSnapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// AcquirePublishClaim takes a short-lived exclusive claim on one
// (submission, channel) publication attempt so a retried publish cannot race
// a still-running send. Returns false when another owner holds the claim.
func (r *RedisStore) AcquirePublishClaim(submissionID, channelID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("pubclaim:%s:%s", submissionID, channelID)
	return r.Client.SetNX(r.Ctx, key, 1, ttl).Result()
}

// ReleasePublishClaim drops a publication claim after the attempt resolves.
func (r *RedisStore) ReleasePublishClaim(submissionID, channelID string) {
	key := fmt.Sprintf("pubclaim:%s:%s", submissionID, channelID)
	if err := r.Client.Del(r.Ctx, key).Err(); err != nil {
		zap.L().Warn("release publish claim", zap.Error(err), zap.String("key", key))
	}
}

// IncrementAuthorSubmissions bumps the daily intake counter for an author.
// A 24h TTL is applied on first set. Returns the current count.
func (r *RedisStore) IncrementAuthorSubmissions(authorID int64) (int64, error) {
	key := fmt.Sprintf("intake:%d:%s", authorID, time.Now().Format("2006-01-02"))
	val, err := r.Client.Incr(r.Ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 {
		r.Client.Expire(r.Ctx, key, 24*time.Hour)
	}
	return val, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
