package reorder

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"labcore/pkg/domain"
)

// DefaultDismissalTTL bounds how long a Redis-backed session overlay lives.
const DefaultDismissalTTL = 12 * time.Hour

const redisKeyPrefix = "labcore:reorder:dismissed:"

// RedisDismissals keeps each session's overlay in a Redis set that expires
// ttl after the last dismissal.
type RedisDismissals struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDismissals wraps client. A non-positive ttl uses DefaultDismissalTTL.
func NewRedisDismissals(client redis.UniversalClient, ttl time.Duration) *RedisDismissals {
	if ttl <= 0 {
		ttl = DefaultDismissalTTL
	}
	return &RedisDismissals{client: client, ttl: ttl}
}

// RedisOptions are connection settings for NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

func redisKey(session string) string { return redisKeyPrefix + session }

// Dismiss implements Dismissals.
func (r *RedisDismissals) Dismiss(ctx context.Context, session, itemID string) error {
	if err := validSession(session, itemID); err != nil {
		return err
	}
	key := redisKey(session)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, itemID)
		p.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return domain.Transient("dismiss suggestion", err)
	}
	return nil
}

// Dismissed implements Dismissals.
func (r *RedisDismissals) Dismissed(ctx context.Context, session string) (map[string]bool, error) {
	ids, err := r.client.SMembers(ctx, redisKey(session)).Result()
	if err != nil && err != redis.Nil {
		return nil, domain.Transient("list dismissals", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Clear implements Dismissals.
func (r *RedisDismissals) Clear(ctx context.Context, session string) error {
	if err := r.client.Del(ctx, redisKey(session)).Err(); err != nil {
		return domain.Transient("clear dismissals", err)
	}
	return nil
}

var (
	_ Dismissals = (*MemoryDismissals)(nil)
	_ Dismissals = (*RedisDismissals)(nil)
)
