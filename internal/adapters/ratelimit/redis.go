package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const keyPrefix = "cobranzas:ratelimit:"

// Redis shares daily counters between dispatcher processes.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

// Allow increments key's counter for day. Keys carry a TTL so old days expire
// on their own.
func (r *Redis) Allow(ctx context.Context, key string, limit int, day time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	k := dayKey(key, day)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, eris.Wrapf(err, "rate limit %s", k)
	}
	return incr.Val() <= int64(limit), nil
}

func (r *Redis) Refund(ctx context.Context, key string, day time.Time) error {
	k := dayKey(key, day)
	if err := r.client.Decr(ctx, k).Err(); err != nil {
		return eris.Wrapf(err, "refund %s", k)
	}
	return nil
}

func dayKey(key string, day time.Time) string {
	return keyPrefix + key + ":" + day.Format(time.DateOnly)
}
